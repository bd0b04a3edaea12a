package student

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"student-records/internal/record"
)

func rangeLabel(start, end, total int) string {
	return "showing " + strconv.Itoa(start) + " to " + strconv.Itoa(end) + " of " + strconv.Itoa(total) + " students"
}

func confirmPrompt(s record.Student) string {
	return fmt.Sprintf("are you sure you want to delete %s (%s)? this cannot be undone", s.FullName, s.Matricula)
}

// writeEvent writes one server-sent event with a JSON payload.
func writeEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
