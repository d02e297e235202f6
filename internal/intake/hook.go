package intake

import (
	"fmt"
	"sort"
	"strings"
)

// Field names carried by relay hook events.
const (
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldRTSPPort    = "rtspPort"
	FieldSourceType  = "sourceType"
	FieldSourceID    = "sourceId"
	FieldReaderType  = "readerType"
	FieldReaderID    = "readerId"
	FieldSegmentPath = "segmentPath"
)

// Relay hook event names.
const (
	EventInit                  = "init"
	EventDemand                = "demand"
	EventUnDemand              = "unDemand"
	EventReady                 = "ready"
	EventNotReady              = "notReady"
	EventRead                  = "read"
	EventUnread                = "unread"
	EventRecordSegmentCreate   = "recordSegmentCreate"
	EventRecordSegmentComplete = "recordSegmentComplete"
)

// envKeys maps relay environment variables to event field names.
var envKeys = map[string]string{
	"MTX_PATH":         FieldPath,
	"MTX_QUERY":        FieldQuery,
	"RTSP_PORT":        FieldRTSPPort,
	"MTX_SOURCE_TYPE":  FieldSourceType,
	"MTX_SOURCE_ID":    FieldSourceID,
	"MTX_READER_TYPE":  FieldReaderType,
	"MTX_READER_ID":    FieldReaderID,
	"MTX_SEGMENT_PATH": FieldSegmentPath,
}

// RequiredFields lists the fields each known hook event must carry.
var RequiredFields = map[string][]string{
	EventInit:                  {FieldPath},
	EventDemand:                {FieldPath, FieldQuery},
	EventUnDemand:              {FieldPath, FieldQuery},
	EventReady:                 {FieldPath, FieldQuery, FieldSourceType, FieldSourceID},
	EventNotReady:              {FieldPath, FieldQuery, FieldSourceType, FieldSourceID},
	EventRead:                  {FieldPath, FieldQuery, FieldReaderType, FieldReaderID},
	EventUnread:                {FieldPath, FieldQuery, FieldReaderType, FieldReaderID},
	EventRecordSegmentCreate:   {FieldPath, FieldSegmentPath},
	EventRecordSegmentComplete: {FieldPath, FieldSegmentPath},
}

// KnownEvents returns the hook event names in sorted order.
func KnownEvents() []string {
	out := make([]string, 0, len(RequiredFields))
	for k := range RequiredFields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks that a known event carries its required fields and a
// non-empty path. Events outside RequiredFields are not checked.
func (e Event) Validate() error {
	required, ok := RequiredFields[e.Name]
	if !ok {
		return nil
	}
	var missing []string
	for _, f := range required {
		if _, ok := e.Fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("event %q: missing %s", e.Name, strings.Join(missing, ", "))
	}
	if e.Path() == "" {
		return fmt.Errorf("event %q: empty path", e.Name)
	}
	return nil
}

// FieldsFromEnv collects the payload of event from relay environment variables.
// A required variable must be present; it may be empty (queries usually are).
func FieldsFromEnv(event string, lookup func(string) (string, bool)) (map[string]string, error) {
	required, ok := RequiredFields[event]
	if !ok {
		return nil, fmt.Errorf("unknown event %q (known: %s)", event, strings.Join(KnownEvents(), ", "))
	}
	fields := make(map[string]string)
	for env, field := range envKeys {
		if v, ok := lookup(env); ok {
			fields[field] = v
		}
	}
	var missing []string
	for _, f := range required {
		if _, ok := fields[f]; !ok {
			missing = append(missing, envName(f))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("event %q: missing environment %s", event, strings.Join(missing, ", "))
	}
	if fields[FieldPath] == "" {
		return nil, fmt.Errorf("event %q: MTX_PATH is empty", event)
	}
	return fields, nil
}

func normalizeKey(k string) string {
	if f, ok := envKeys[k]; ok {
		return f
	}
	return k
}

func envName(field string) string {
	for env, f := range envKeys {
		if f == field {
			return env
		}
	}
	return field
}
