package game

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readEnvelope(t *testing.T, conn *websocket.Conn) StatePayload {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	require.Equal(t, "state", env.Type)

	var st StatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &st))
	return st
}

func TestWS_StreamsStateOnMoves(t *testing.T) {
	ts, svc := newTestServer(t, &fakeReader{info: activeTwoPlayerInfo()})

	g, _, err := svc.Init(context.Background(), "m1", matchContract, [2]string{walletA, walletB})
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/match?matchId=m1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// the current state is pushed on subscribe
	st := readEnvelope(t, conn)
	assert.Equal(t, "m1", st.MatchID)
	assert.Equal(t, "X", st.CurrentTurn)
	assert.Empty(t, st.MoveHistory)

	_, err = g.Move(walletA, 4)
	require.NoError(t, err)

	st = readEnvelope(t, conn)
	assert.Equal(t, "O", st.CurrentTurn)
	require.NotNil(t, st.Board[4])
	assert.Equal(t, "X", *st.Board[4])
}

func TestWS_UnknownMatchIs404(t *testing.T) {
	ts, _ := newTestServer(t, &fakeReader{info: activeTwoPlayerInfo()})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/match?matchId=missing"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
