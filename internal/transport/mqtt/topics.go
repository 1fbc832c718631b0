package mqtt

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Device twin topic prefixes.
const (
	twinResponsePrefix = "$iothub/twin/res/"
	twinResponseFilter = "$iothub/twin/res/#"
	twinDesiredPrefix  = "$iothub/twin/PATCH/properties/desired/"
	twinDesiredFilter  = "$iothub/twin/PATCH/properties/desired/#"
	twinGetTopic       = "$iothub/twin/GET/?$rid="
	twinReportedTopic  = "$iothub/twin/PATCH/properties/reported/?$rid="
)

// Topics builds the device-scoped topic names.
type Topics struct {
	DeviceID string
}

// Telemetry is the device-to-cloud events topic.
func (t Topics) Telemetry() string {
	return fmt.Sprintf("devices/%s/messages/events/", t.DeviceID)
}

// CloudToDevice is the subscription filter for cloud-to-device messages.
func (t Topics) CloudToDevice() string {
	return fmt.Sprintf("devices/%s/messages/devicebound/#", t.DeviceID)
}

// TwinGet requests the full twin document.
func (Topics) TwinGet(rid string) string { return twinGetTopic + rid }

// ReportedPatch patches reported properties.
func (Topics) ReportedPatch(rid string) string { return twinReportedTopic + rid }

// TwinResponses is the subscription filter for twin request responses.
func (Topics) TwinResponses() string { return twinResponseFilter }

// DesiredPatches is the subscription filter for desired-property patches.
func (Topics) DesiredPatches() string { return twinDesiredFilter }

// twinResponse is a parsed "$iothub/twin/res/{status}/?$rid={rid}" message.
type twinResponse struct {
	Status  int
	RID     string
	Payload []byte
}

// parseTwinResponseTopic extracts the status code and request id.
func parseTwinResponseTopic(topic string) (status int, rid string, err error) {
	rest, ok := strings.CutPrefix(topic, twinResponsePrefix)
	if !ok {
		return 0, "", fmt.Errorf("not a twin response topic: %q", topic)
	}
	code, query, ok := strings.Cut(rest, "/?")
	if !ok {
		return 0, "", fmt.Errorf("twin response topic without query: %q", topic)
	}
	status, err = strconv.Atoi(code)
	if err != nil {
		return 0, "", fmt.Errorf("twin response status %q: %w", code, err)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return 0, "", fmt.Errorf("twin response query %q: %w", query, err)
	}
	rid = values.Get("$rid")
	if rid == "" {
		return 0, "", fmt.Errorf("twin response without $rid: %q", topic)
	}
	return status, rid, nil
}
