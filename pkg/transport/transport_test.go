package transport

import (
	"context"
	"testing"

	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestNullTransportDryRunNeverMutates(t *testing.T) {
	tr := NullTransport{}
	res, err := tr.Execute(context.Background(), models.Action{Type: "click"}, true)
	require.NoError(t, err)
	require.Equal(t, models.StatusPreview, res.Status)
}

func TestNullTransportLiveReturnsOK(t *testing.T) {
	tr := NullTransport{}
	res, err := tr.Execute(context.Background(), models.Action{Type: "click"}, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusOK, res.Status)
}

func TestRecordingTransportCapturesOrder(t *testing.T) {
	rt := NewRecordingTransport(nil)
	_, _ = rt.Execute(context.Background(), models.Action{Type: "click"}, false)
	_, _ = rt.Execute(context.Background(), models.Action{Type: "type"}, false)

	recorded := rt.Recorded()
	require.Len(t, recorded, 2)
	require.Equal(t, "click", recorded[0].Type)
	require.Equal(t, "type", recorded[1].Type)
}

func TestProbeReady(t *testing.T) {
	h, err := (NullTransport{}).Probe(context.Background())
	require.NoError(t, err)
	require.True(t, h.Ready)
}
