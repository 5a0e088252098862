// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cilium/lispd/pkg/timerwheel"
)

func TestDispatchLinkInvokesHandler(t *testing.T) {
	w := timerwheel.New(time.Now)
	var got LinkEvent
	l := New(w, Handlers{OnLinkEvent: func(ev LinkEvent) { got = ev }}, Config{})

	l.dispatchLink(LinkEvent{Interface: "eth0", Up: true})

	require.Equal(t, "eth0", got.Interface)
	require.True(t, got.Up)
}

func TestDispatchLinkToleratesNilHandler(t *testing.T) {
	w := timerwheel.New(time.Now)
	l := New(w, Handlers{}, Config{})

	require.NotPanics(t, func() {
		l.dispatchLink(LinkEvent{Interface: "eth0"})
	})
}
