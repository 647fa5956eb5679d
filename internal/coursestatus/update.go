package coursestatus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Statuses lists the accepted course states.
var Statuses = []string{"draft", "published", "archived", "active", "completed"}

// Update is the body posted to the gateway.
type Update struct {
	CourseID  string     `json:"course_id" validate:"required,max=128,printascii"`
	Status    string     `json:"status" validate:"required,oneof=draft published archived active completed"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseUpdate decodes and validates a payload. Trailing data after the JSON
// object is rejected.
func ParseUpdate(payload []byte) (Update, error) {
	var u Update
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	if dec.More() {
		return Update{}, errors.New("decode update: trailing data")
	}
	u.Status = strings.ToLower(strings.TrimSpace(u.Status))
	if err := validate.Struct(u); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return Update{}, fmt.Errorf("invalid update: %s", strings.Join(fields, "; "))
		}
		return Update{}, fmt.Errorf("invalid update: %w", err)
	}
	return u, nil
}

// Record is an Update as applied to the store.
type Record struct {
	CourseID   string
	Status     string
	UpdatedAt  time.Time
	EnvelopeID string
}
