// Package status models the shipment lifecycle and its append-only audit trail.
package status

import (
	"fmt"
	"strings"

	"github.com/MithilHassan/kbt-express/internal/platform/httpx"
)

// Status is a shipment lifecycle stage.
type Status string

const (
	Pending                 Status = "Pending"
	DocumentationPrepared   Status = "Documentation Prepared"
	ShipmentFinalised       Status = "Shipment Finalised"
	PickupArranged          Status = "Pickup Arranged"
	ArrivedHubOrigin        Status = "Arrived Hub (Origin)"
	SortedToDestination     Status = "Sorted to Destination"
	InTransitToDestination  Status = "In Transit to Destination"
	ArrivedDepotDestination Status = "Arrived Depot (Destination)"
	ReleasedFromCustoms     Status = "Released from Customs"
	Delivered               Status = "Delivered"
	Cancelled               Status = "Cancelled"
)

// Initial is the status of every new booking.
const Initial = Pending

// ErrInvalidStatus reports a value outside the lifecycle.
var ErrInvalidStatus = fmt.Errorf("%w: invalid status", httpx.ErrValidation)

// Definition carries the domain data of a stage.
type Definition struct {
	Value       Status `json:"value"`
	Rank        int    `json:"rank"`
	Description string `json:"description"`
}

var definitions = []Definition{
	{Pending, 1, "Booking received and awaiting processing"},
	{DocumentationPrepared, 2, "Shipping documents have been prepared"},
	{ShipmentFinalised, 3, "Shipment details confirmed and finalized"},
	{PickupArranged, 4, "Pickup has been scheduled"},
	{ArrivedHubOrigin, 5, "Package arrived at origin hub"},
	{SortedToDestination, 6, "Package sorted for destination"},
	{InTransitToDestination, 7, "Package is on the way to destination"},
	{ArrivedDepotDestination, 8, "Package arrived at destination depot"},
	{ReleasedFromCustoms, 9, "Package cleared customs"},
	{Delivered, 10, "Package successfully delivered"},
	{Cancelled, 11, "Booking has been cancelled"},
}

var byValue = func() map[Status]Definition {
	m := make(map[Status]Definition, len(definitions))
	for _, d := range definitions {
		m[d.Value] = d
	}
	return m
}()

// All returns the stages in nominal forward order.
func All() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Parse validates a raw status value.
func Parse(v string) (Status, error) {
	s := Status(strings.TrimSpace(v))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// IsValid reports whether s is a known stage.
func (s Status) IsValid() bool {
	_, ok := byValue[s]
	return ok
}

// Rank returns the ordinal position, or 0 for unknown values.
func (s Status) Rank() int {
	return byValue[s].Rank
}

// Description returns the human readable stage description.
func (s Status) Description() string {
	return byValue[s].Description
}

// IsTerminal reports whether no further movement is expected.
func (s Status) IsTerminal() bool {
	return s == Delivered || s == Cancelled
}

// CanCancel reports whether Cancelled is a forward move from s.
func (s Status) CanCancel() bool {
	return s.IsValid() && !s.IsTerminal()
}

func (s Status) String() string {
	return string(s)
}
