package model

// MessageKind selects the notification template sent for a schedule event.
type MessageKind string

const (
	MessageScheduleCreation MessageKind = "SCHEDULE_CREATION"
	MessageConfirmation     MessageKind = "CONFIRMATION"
	MessageCancellation     MessageKind = "CANCELLATION"
)
