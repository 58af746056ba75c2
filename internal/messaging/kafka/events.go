package kafka

// Topics для Kafka
const (
	TopicOrderEvents = "smmsync.order.events"
)

// Kafka headers
const (
	HeaderEventType = "x-event-type"
	HeaderSource    = "x-source"
)

// sourceName пишется в HeaderSource всех сообщений сервиса.
const sourceName = "smmsync"
