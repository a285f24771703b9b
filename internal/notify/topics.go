package notify

import "fmt"

const (
	// EventEnded is published once a call outcome has been saved
	EventEnded = "ended"
	// EventAnalysed is published once analytics have been saved
	EventAnalysed = "analysed"
)

// TopicCall is the topic a call lifecycle event is published on
func TopicCall(prefix, callID, event string) string {
	return fmt.Sprintf("%s/calls/%s/%s", prefix, callID, event)
}

// TopicAllCalls subscribes to every event of every call
func TopicAllCalls(prefix string) string {
	return fmt.Sprintf("%s/calls/+/+", prefix)
}
