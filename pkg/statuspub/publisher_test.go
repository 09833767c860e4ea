package statuspub

import (
	"testing"

	"github.com/librescoot/uavlink/pkg/uavobject"
	"github.com/stretchr/testify/assert"
)

func TestStatusNameMapping(t *testing.T) {
	cases := []struct {
		status uint8
		want   string
	}{
		{uavobject.GCSStatusDisconnected, "disconnected"},
		{uavobject.GCSStatusHandshakeRequested, "handshake_requested"},
		{uavobject.GCSStatusConnected, "connected"},
		{99, "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusName(c.status))
	}
}
