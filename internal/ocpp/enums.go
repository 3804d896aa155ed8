package ocpp

// RegistrationStatus is the central system's verdict on a boot notification.
type RegistrationStatus string

const (
	RegistrationUnknown  RegistrationStatus = "Unknown"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// AuthorizationStatus is the verdict on an id tag lookup.
type AuthorizationStatus string

const (
	AuthorizationAccepted     AuthorizationStatus = "Accepted"
	AuthorizationBlocked      AuthorizationStatus = "Blocked"
	AuthorizationExpired      AuthorizationStatus = "Expired"
	AuthorizationInvalid      AuthorizationStatus = "Invalid"
	AuthorizationConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// ChargePointStatus is the reported state of a connector.
type ChargePointStatus string

const (
	StatusAvailable     ChargePointStatus = "Available"
	StatusPreparing     ChargePointStatus = "Preparing"
	StatusCharging      ChargePointStatus = "Charging"
	StatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	StatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	StatusFinishing     ChargePointStatus = "Finishing"
	StatusReserved      ChargePointStatus = "Reserved"
	StatusUnavailable   ChargePointStatus = "Unavailable"
	StatusFaulted       ChargePointStatus = "Faulted"
	StatusOccupied      ChargePointStatus = "Occupied"
)

// ChargePointErrorCode accompanies a status notification.
type ChargePointErrorCode string

const (
	ErrorCodeNoError              ChargePointErrorCode = "NoError"
	ErrorCodeConnectorLockFailure ChargePointErrorCode = "ConnectorLockFailure"
	ErrorCodeEVCommunicationError ChargePointErrorCode = "EVCommunicationError"
	ErrorCodeGroundFailure        ChargePointErrorCode = "GroundFailure"
	ErrorCodeHighTemperature      ChargePointErrorCode = "HighTemperature"
	ErrorCodeInternalError        ChargePointErrorCode = "InternalError"
	ErrorCodeOverCurrentFailure   ChargePointErrorCode = "OverCurrentFailure"
	ErrorCodePowerMeterFailure    ChargePointErrorCode = "PowerMeterFailure"
	ErrorCodePowerSwitchFailure   ChargePointErrorCode = "PowerSwitchFailure"
	ErrorCodeReaderFailure        ChargePointErrorCode = "ReaderFailure"
	ErrorCodeWeakSignal           ChargePointErrorCode = "WeakSignal"
	ErrorCodeOtherError           ChargePointErrorCode = "OtherError"
)

// ReadingContext tags the circumstance a sampled value was taken in.
type ReadingContext string

const (
	ContextInterruptionBegin ReadingContext = "Interruption.Begin"
	ContextInterruptionEnd   ReadingContext = "Interruption.End"
	ContextSampleClock       ReadingContext = "Sample.Clock"
	ContextSamplePeriodic    ReadingContext = "Sample.Periodic"
	ContextTransactionBegin  ReadingContext = "Transaction.Begin"
	ContextTransactionEnd    ReadingContext = "Transaction.End"
	ContextTrigger           ReadingContext = "Trigger"
	ContextOther             ReadingContext = "Other"
)

// Measurand identifies the quantity a sampled value measures.
type Measurand string

const (
	MeasurandEnergyActiveImportRegister Measurand = "Energy.Active.Import.Register"
	MeasurandEnergyActiveExportRegister Measurand = "Energy.Active.Export.Register"
	MeasurandEnergyReactiveImport       Measurand = "Energy.Reactive.Import.Register"
	MeasurandPowerActiveImport          Measurand = "Power.Active.Import"
	MeasurandPowerOffered               Measurand = "Power.Offered"
	MeasurandCurrentImport              Measurand = "Current.Import"
	MeasurandCurrentOffered             Measurand = "Current.Offered"
	MeasurandVoltage                    Measurand = "Voltage"
	MeasurandTemperature                Measurand = "Temperature"
	MeasurandSoC                        Measurand = "SoC"
	MeasurandFrequency                  Measurand = "Frequency"
)

// UnitOfMeasure is the unit a sampled value is expressed in.
type UnitOfMeasure string

const (
	UnitWh         UnitOfMeasure = "Wh"
	UnitKWh        UnitOfMeasure = "kWh"
	UnitVarh       UnitOfMeasure = "varh"
	UnitKvarh      UnitOfMeasure = "kvarh"
	UnitW          UnitOfMeasure = "W"
	UnitKW         UnitOfMeasure = "kW"
	UnitVar        UnitOfMeasure = "var"
	UnitKvar       UnitOfMeasure = "kvar"
	UnitA          UnitOfMeasure = "A"
	UnitV          UnitOfMeasure = "V"
	UnitCelsius    UnitOfMeasure = "Celsius"
	UnitFahrenheit UnitOfMeasure = "Fahrenheit"
	UnitKelvin     UnitOfMeasure = "K"
	UnitPercent    UnitOfMeasure = "Percent"
)

// ValueFormat indicates how a sampled value string is encoded.
type ValueFormat string

const (
	FormatRaw    ValueFormat = "Raw"
	FormatSigned ValueFormat = "SignedData"
)

// Phase identifies the electrical phase a value was measured on.
type Phase string

const (
	PhaseL1 Phase = "L1"
	PhaseL2 Phase = "L2"
	PhaseL3 Phase = "L3"
	PhaseN  Phase = "N"
)

// Location identifies where on the charge point the value was measured.
type Location string

const (
	LocationBody   Location = "Body"
	LocationCable  Location = "Cable"
	LocationEV     Location = "EV"
	LocationInlet  Location = "Inlet"
	LocationOutlet Location = "Outlet"
)

// AvailabilityType is the requested operative state of a connector.
type AvailabilityType string

const (
	AvailabilityOperative   AvailabilityType = "Operative"
	AvailabilityInoperative AvailabilityType = "Inoperative"
)

// AvailabilityStatus is the charge point's answer to a change-availability request.
type AvailabilityStatus string

const (
	AvailabilityStatusAccepted  AvailabilityStatus = "Accepted"
	AvailabilityStatusRejected  AvailabilityStatus = "Rejected"
	AvailabilityStatusScheduled AvailabilityStatus = "Scheduled"
)

// DataTransferStatus is the answer to a vendor data transfer.
type DataTransferStatus string

const (
	DataTransferAccepted         DataTransferStatus = "Accepted"
	DataTransferRejected         DataTransferStatus = "Rejected"
	DataTransferUnknownMessageID DataTransferStatus = "UnknownMessageId"
	DataTransferUnknownVendorID  DataTransferStatus = "UnknownVendorId"
)

// Reason explains why a transaction was stopped.
type Reason string

const (
	ReasonEVDisconnected Reason = "EVDisconnected"
	ReasonHardReset      Reason = "HardReset"
	ReasonLocal          Reason = "Local"
	ReasonOther          Reason = "Other"
	ReasonPowerLoss      Reason = "PowerLoss"
	ReasonRemote         Reason = "Remote"
	ReasonSoftReset      Reason = "SoftReset"
	ReasonDeAuthorized   Reason = "DeAuthorized"
)
