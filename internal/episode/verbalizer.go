package episode

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/recall/internal/domain"
)

// template renders one source type into a canonical sentence.
// primary is the required descriptive field; rendering a record without it
// fails with MalformedRecordError.
type template struct {
	primary string
	render  func(date, primary string, get func(string) string) string
}

// templates maps source types to their verbalization templates. Unknown
// source types fall back to genericTemplate.
var templates = map[string]template{
	"post": {
		primary: "text",
		render: func(date, primary string, _ func(string) string) string {
			return fmt.Sprintf("On %s I posted: %s", date, primary)
		},
	},
	"photo": {
		primary: "description",
		render: func(date, primary string, get func(string) string) string {
			if place := get("place"); place != "" {
				return fmt.Sprintf("On %s I took a photo of %s in %s.", date, primary, place)
			}
			return fmt.Sprintf("On %s I took a photo of %s.", date, primary)
		},
	},
	"location": {
		primary: "place",
		render: func(date, primary string, get func(string) string) string {
			if country := get("country"); country != "" {
				return fmt.Sprintf("On %s I visited %s, %s.", date, primary, country)
			}
			return fmt.Sprintf("On %s I visited %s.", date, primary)
		},
	},
	"purchase": {
		primary: "item",
		render: func(date, primary string, get func(string) string) string {
			if price := get("price"); price != "" {
				return fmt.Sprintf("On %s I bought %s for %s.", date, primary, price)
			}
			return fmt.Sprintf("On %s I bought %s.", date, primary)
		},
	},
	"activity": {
		primary: "kind",
		render: func(date, primary string, get func(string) string) string {
			if dur := get("duration"); dur != "" {
				return fmt.Sprintf("On %s I did %s for %s.", date, primary, dur)
			}
			return fmt.Sprintf("On %s I did %s.", date, primary)
		},
	},
}

// genericTemplate covers source types without a dedicated template.
var genericTemplate = template{
	primary: "description",
	render: func(date, primary string, _ func(string) string) string {
		return fmt.Sprintf("On %s: %s", date, primary)
	},
}

// Verbalize renders a source record into a canonical episode. Deterministic:
// identical input always yields identical ID and text, across processes.
func Verbalize(rec domain.SourceRecord) (domain.Episode, error) {
	if rec.SourceType == "" {
		return domain.Episode{}, domain.NewMalformedRecord("", "missing source_type")
	}
	if rec.Timestamp.IsZero() {
		return domain.Episode{}, domain.NewMalformedRecord(rec.SourceType, "missing timestamp")
	}

	tpl, ok := templates[rec.SourceType]
	if !ok {
		tpl = genericTemplate
	}

	primary := fieldString(rec.Fields[tpl.primary])
	if strings.TrimSpace(primary) == "" {
		return domain.Episode{}, domain.NewMalformedRecord(
			rec.SourceType, fmt.Sprintf("missing required field %q", tpl.primary))
	}

	date := rec.Timestamp.UTC().Format("January 2, 2006")
	get := func(name string) string { return fieldString(rec.Fields[name]) }
	text := tpl.render(date, primary, get)

	provenance := rec.Provenance
	if provenance == "" {
		provenance = rec.SourceType + "/" + rec.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	return domain.Episode{
		ID:         episodeID(rec),
		Timestamp:  rec.Timestamp,
		Text:       text,
		SourceType: rec.SourceType,
		Provenance: provenance,
	}, nil
}

// episodeID derives a stable content-addressed ID from the record. Any change
// to the source content produces a new ID, superseding the old episode.
func episodeID(rec domain.SourceRecord) string {
	h := sha256.New()
	h.Write([]byte(rec.SourceType))
	h.Write([]byte{0x1f})
	h.Write([]byte(rec.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")))

	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0x1f})
		h.Write([]byte(k))
		h.Write([]byte{0x1e})
		h.Write([]byte(fieldString(rec.Fields[k])))
	}

	return "ep_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// fieldString renders a field value deterministically. JSON encoding keeps
// numbers and nested values canonical regardless of the incoming Go type.
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
