package address

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/rpcclient"
)

type stubZone struct {
	result rpcclient.ZoneResult
}

func (s *stubZone) ZoneFor(_ context.Context, _ rpcclient.LatLng, _ string) (rpcclient.ZoneResult, error) {
	return s.result, nil
}

func TestExecute_NoLocationPausesWaitingForInput(t *testing.T) {
	e := New(&stubZone{})
	res := e.Execute(context.Background(), map[string]any{"field": "delivery"}, map[string]any{})
	require.Nil(t, res.Error)
	assert.True(t, res.Pause)
	assert.Equal(t, []string{"waiting_for_input"}, res.Events)
}

func TestExecute_ServiceableLocationEmitsAddressValid(t *testing.T) {
	e := New(&stubZone{result: rpcclient.ZoneResult{ZoneID: "Z1", Serviceable: true}})
	turnCtx := map[string]any{"_shared_location": map[string]any{"lat": 19.9, "lng": -99.1, "label": "Home"}}
	res := e.Execute(context.Background(), map[string]any{"field": "delivery"}, turnCtx)
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"address_valid"}, res.Events)
}

func TestExecute_OutOfZoneEmitsInvalid(t *testing.T) {
	e := New(&stubZone{result: rpcclient.ZoneResult{Serviceable: false}})
	turnCtx := map[string]any{"_shared_location": map[string]any{"lat": 0.0, "lng": 0.0}}
	res := e.Execute(context.Background(), map[string]any{"field": "delivery"}, turnCtx)
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"invalid"}, res.Events)
}

func TestExecute_FreeTextCoordinatesResolveAddress(t *testing.T) {
	e := New(&stubZone{result: rpcclient.ZoneResult{ZoneID: "Z1", Serviceable: true}})
	turnCtx := map[string]any{"_last_user_message": "pickup at 19.98,73.78"}
	res := e.Execute(context.Background(), map[string]any{"field": "pickup"}, turnCtx)
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"address_valid"}, res.Events)
	out := res.Output.(map[string]any)
	assert.Equal(t, 19.98, out["lat"])
	assert.Equal(t, 73.78, out["lng"])
}

func TestExecute_FreeTextWithoutCoordinatesPauses(t *testing.T) {
	e := New(&stubZone{})
	turnCtx := map[string]any{"_last_user_message": "somewhere downtown"}
	res := e.Execute(context.Background(), map[string]any{"field": "pickup"}, turnCtx)
	require.Nil(t, res.Error)
	assert.True(t, res.Pause)
	assert.Equal(t, []string{"waiting_for_input"}, res.Events)
}
