package ocpp

import "time"

// IdTagInfo is the authorization verdict embedded in transaction responses.
type IdTagInfo struct {
	Status      AuthorizationStatus `json:"status"`
	ExpiryDate  *time.Time          `json:"expiryDate,omitempty"`
	ParentIdTag string              `json:"parentIdTag,omitempty"`
}

type BootNotificationReq struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

type BootNotificationConf struct {
	Status      RegistrationStatus `json:"status"`
	CurrentTime time.Time          `json:"currentTime"`
	Interval    int                `json:"interval"`
}

type StatusNotificationReq struct {
	ConnectorID     int                  `json:"connectorId"`
	Status          ChargePointStatus    `json:"status"`
	ErrorCode       ChargePointErrorCode `json:"errorCode"`
	Info            string               `json:"info,omitempty"`
	Timestamp       *time.Time           `json:"timestamp,omitempty"`
	VendorID        string               `json:"vendorId,omitempty"`
	VendorErrorCode string               `json:"vendorErrorCode,omitempty"`
}

type StatusNotificationConf struct{}

type AuthorizeReq struct {
	IdTag string `json:"idTag"`
}

type AuthorizeConf struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

type StartTransactionReq struct {
	ConnectorID   int        `json:"connectorId"`
	IdTag         string     `json:"idTag"`
	MeterStart    int64      `json:"meterStart"`
	ReservationID *int       `json:"reservationId,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

type StartTransactionConf struct {
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
	TransactionID int64     `json:"transactionId"`
}

type StopTransactionReq struct {
	IdTag           string       `json:"idTag,omitempty"`
	MeterStop       int64        `json:"meterStop"`
	Timestamp       *time.Time   `json:"timestamp,omitempty"`
	TransactionID   int64        `json:"transactionId"`
	Reason          Reason       `json:"reason,omitempty"`
	TransactionData []MeterValue `json:"transactionData,omitempty"`
}

type StopTransactionConf struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// SampledValue is one metered reading tagged with context and unit.
type SampledValue struct {
	Value     string         `json:"value"`
	Context   ReadingContext `json:"context,omitempty"`
	Format    ValueFormat    `json:"format,omitempty"`
	Measurand Measurand      `json:"measurand,omitempty"`
	Phase     Phase          `json:"phase,omitempty"`
	Location  Location       `json:"location,omitempty"`
	Unit      UnitOfMeasure  `json:"unit,omitempty"`
}

// MeterValue groups the sampled values taken at one point in time.
type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

type MeterValuesReq struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int64       `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

type MeterValuesConf struct{}

type DataTransferReq struct {
	VendorID  string `json:"vendorId"`
	MessageID string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

type DataTransferConf struct {
	Status DataTransferStatus `json:"status"`
	Data   string             `json:"data,omitempty"`
}

type HeartbeatReq struct{}

type HeartbeatConf struct {
	CurrentTime time.Time `json:"currentTime"`
}

type ChangeAvailabilityReq struct {
	ConnectorID int              `json:"connectorId"`
	Type        AvailabilityType `json:"type"`
}

type ChangeAvailabilityConf struct {
	Status AvailabilityStatus `json:"status"`
}

type GetConfigurationReq struct {
	Key []string `json:"key,omitempty"`
}

type KeyValue struct {
	Key      string  `json:"key"`
	Readonly bool    `json:"readonly"`
	Value    *string `json:"value,omitempty"`
}

type GetConfigurationConf struct {
	ConfigurationKey []KeyValue `json:"configurationKey,omitempty"`
	UnknownKey       []string   `json:"unknownKey,omitempty"`
}

// NumberOfConnectorsKey is the configuration key the registry reconciles
// connector rows against after registration.
const NumberOfConnectorsKey = "NumberOfConnectors"
