package ocpp

// Action identifies one request/response pair in the charge-point protocol.
type Action string

const (
	ActionBootNotification   Action = "BootNotification"
	ActionStatusNotification Action = "StatusNotification"
	ActionStartTransaction   Action = "StartTransaction"
	ActionStopTransaction    Action = "StopTransaction"
	ActionMeterValues        Action = "MeterValues"
	ActionDataTransfer       Action = "DataTransfer"
	ActionHeartbeat          Action = "Heartbeat"
	ActionAuthorize          Action = "Authorize"

	// Central-system initiated actions.
	ActionChangeAvailability Action = "ChangeAvailability"
	ActionGetConfiguration   Action = "GetConfiguration"
)

func (a Action) String() string { return string(a) }
