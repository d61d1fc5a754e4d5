// Package refnum generates the unique business references assigned to
// messages, responses and aggregates created by the engine.
package refnum

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique business references.
type Generator interface {
	MessageRef() string
	GuaranteeRef() string
	AmendmentRef() string
}

// UUIDGenerator derives references from random UUIDs with a dated,
// type-specific prefix, e.g. "GTEE-20260825-9F1C2D3A".
type UUIDGenerator struct {
	now func() time.Time
}

var _ Generator = (*UUIDGenerator)(nil)

func New() *UUIDGenerator {
	return &UUIDGenerator{now: time.Now}
}

func (g *UUIDGenerator) make(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, g.now().UTC().Format("20060102"), id)
}

func (g *UUIDGenerator) MessageRef() string   { return g.make("MSG") }
func (g *UUIDGenerator) GuaranteeRef() string { return g.make("GTEE") }
func (g *UUIDGenerator) AmendmentRef() string { return g.make("AMND") }
