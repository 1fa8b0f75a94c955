package zone

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtalk/engine/pkg/rpcclient"
)

type stubZone struct{ result rpcclient.ZoneResult }

func (s *stubZone) ZoneFor(_ context.Context, _ rpcclient.LatLng, _ string) (rpcclient.ZoneResult, error) {
	return s.result, nil
}

func TestExecute_InZoneEmitsInZoneEvent(t *testing.T) {
	e := New(&stubZone{result: rpcclient.ZoneResult{ZoneID: "Z1", Serviceable: true}})
	res := e.Execute(context.Background(), map[string]any{"lat": 1.0, "lng": 1.0, "module": "food"}, map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"in_zone"}, res.Events)
}

func TestExecute_OutOfZoneEmitsOutOfZoneEventNotError(t *testing.T) {
	e := New(&stubZone{result: rpcclient.ZoneResult{Serviceable: false}})
	res := e.Execute(context.Background(), map[string]any{"lat": 1.0, "lng": 1.0, "module": "food"}, map[string]any{})
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"out_of_zone"}, res.Events)
}
