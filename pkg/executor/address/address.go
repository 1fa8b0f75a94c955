// Package address implements the "address" executor: a multi-turn
// collector for a delivery/pickup address that may pause awaiting a
// location share or a free-text reply.
package address

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/rpcclient"
)

// coordPattern recognizes a typed "lat,lng" pair anywhere in a free-text
// reply (spec §8.3 Scenario A: "pickup at 19.98,73.78"). Degrees only,
// no DMS support — the flows in this repo only ever prompt for a plain
// decimal pair.
var coordPattern = regexp.MustCompile(`(-?\d{1,3}(?:\.\d+)?)\s*,\s*(-?\d{1,3}(?:\.\d+)?)`)

// Config is the "address" executor's configuration shape.
type Config struct {
	Field      string `json:"field"`
	AllowSaved bool   `json:"allowSaved,omitempty"`
	AllowShare bool   `json:"allowShare,omitempty"`
}

// sharedLocation is the shape the gateway normalizes a location-share
// inbound event into within the turn context (spec §6.1 location:update).
type sharedLocation struct {
	Lat   float64
	Lng   float64
	Label string
}

// Executor collects an address from a location share or typed
// coordinates, then looks up the zone for that point via a ZoneClient.
// It never performs geocoding: free text without coordinates is not
// resolved.
type Executor struct {
	Zone rpcclient.ZoneClient
}

// New constructs the address executor.
func New(zone rpcclient.ZoneClient) *Executor { return &Executor{Zone: zone} }

func (e *Executor) Capability() executor.Capability {
	return executor.Capability{RequiresUserInput: true, Idempotent: true}
}

func (e *Executor) Execute(ctx context.Context, config any, turnCtx map[string]any) executor.Result {
	var cfg Config
	if err := executor.DecodeConfig(config, &cfg); err != nil {
		return executor.Result{Error: executor.NewError(executor.KindValidation, fmt.Sprintf("address config: %v", err), err)}
	}

	loc, ok := extractLocation(turnCtx)
	if !ok {
		return executor.Result{
			Response: &executor.Response{Message: "Please share your location or type the address."},
			Events:   []string{"waiting_for_input"},
			Pause:    true,
		}
	}

	zoneResult, err := e.Zone.ZoneFor(ctx, rpcclient.LatLng{Lat: loc.Lat, Lng: loc.Lng}, cfg.Field)
	if err != nil {
		return executor.Result{Error: executor.NewError(executor.KindTransient, "zone lookup failed", err)}
	}

	output := map[string]any{
		"label": loc.Label,
		"lat":   loc.Lat,
		"lng":   loc.Lng,
		"raw":   loc,
	}
	if zoneResult.ZoneID != "" {
		output["zoneId"] = zoneResult.ZoneID
	}

	if !zoneResult.Serviceable {
		return executor.Result{Output: output, Events: []string{"invalid"}}
	}
	return executor.Result{Output: output, Events: []string{"address_valid"}}
}

// extractLocation looks for a location the gateway attached to this turn
// under the well-known context key "_shared_location" (a location-share
// event), falling back to parsing a typed "lat,lng" pair out of the
// user's free-text reply (spec §4.3 address: "Multi-turn: may pause
// awaiting location share or text").
func extractLocation(turnCtx map[string]any) (sharedLocation, bool) {
	if raw, ok := turnCtx["_shared_location"]; ok {
		if m, ok := raw.(map[string]any); ok {
			if loc, ok := locationFromShare(m); ok {
				return loc, true
			}
		}
	}
	if text, ok := turnCtx["_last_user_message"].(string); ok {
		if loc, ok := locationFromText(text); ok {
			return loc, true
		}
	}
	return sharedLocation{}, false
}

func locationFromShare(m map[string]any) (sharedLocation, bool) {
	lat, latOK := toFloat(m["lat"])
	lng, lngOK := toFloat(m["lng"])
	if !latOK || !lngOK {
		return sharedLocation{}, false
	}
	label, _ := m["label"].(string)
	return sharedLocation{Lat: lat, Lng: lng, Label: label}, true
}

// locationFromText parses the first "lat,lng" pair found in text, e.g.
// "pickup at 19.98,73.78". Out-of-range values are rejected rather than
// treated as a match, since most false positives (order numbers, phone
// fragments) won't parse as a plausible coordinate.
func locationFromText(text string) (sharedLocation, bool) {
	match := coordPattern.FindStringSubmatch(text)
	if match == nil {
		return sharedLocation{}, false
	}
	lat, errLat := strconv.ParseFloat(match[1], 64)
	lng, errLng := strconv.ParseFloat(match[2], 64)
	if errLat != nil || errLng != nil {
		return sharedLocation{}, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return sharedLocation{}, false
	}
	return sharedLocation{Lat: lat, Lng: lng, Label: strings.TrimSpace(text)}, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
