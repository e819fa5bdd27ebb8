package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// WriteCSV serialises entries to CSV, newest first.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"created_at", "action", "resource", "entity_id", "actor_id", "ip_address", "user_agent", "details"}); err != nil {
		return err
	}
	for _, entry := range entries {
		var details string
		if entry.Details != nil {
			raw, err := json.Marshal(entry.Details)
			if err != nil {
				return err
			}
			details = string(raw)
		}
		if err := writer.Write([]string{
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.Action,
			entry.Resource,
			entry.EntityID,
			strconv.FormatInt(entry.ActorID, 10),
			entry.IP,
			entry.UserAgent,
			details,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
