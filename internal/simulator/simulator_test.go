package simulator

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"device-bridge/internal/codec"
	"device-bridge/internal/model"
	"device-bridge/internal/protocol"
	"device-bridge/internal/service"
)

func TestState_ReadAllPoints(t *testing.T) {
	state := NewState()

	points, err := state.Read(nil)
	require.NoError(t, err)

	assert.Equal(t, "true", points["running"])
	assert.Equal(t, "clear", points["alarm_state"])
	assert.Equal(t, "12.6", points["battery_voltage"])
	assert.Equal(t, StatusDisarmed, points["subsystem.1"])
	assert.Equal(t, StatusArmed, points["subsystem.2"])
	assert.Equal(t, "active", points["zone.3"])
	assert.Equal(t, "21.5", points["sensor.temperature"])
}

func TestState_ReadSelection(t *testing.T) {
	state := NewState()

	points, err := state.Read(map[string]string{PointsParam: "battery_voltage, zone.1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"battery_voltage": "12.6", "zone.1": "active"}, points)

	_, err = state.Read(map[string]string{PointsParam: "voltage"})
	assert.EqualError(t, err, `unknown data point "voltage"`)
}

func TestState_AlarmLifecycle(t *testing.T) {
	state := NewState()

	// subsystem 1 starts disarmed
	result, err := state.Execute(CmdTrigger, []string{"1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ignored", result["zone.1"])

	_, err = state.Execute(CmdArm, []string{"1"}, nil)
	require.NoError(t, err)

	result, err = state.Execute(CmdTrigger, []string{"1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "active", result["alarm_state"])
	assert.Equal(t, "1", result["alarm_count"])

	points, err := state.Read(nil)
	require.NoError(t, err)
	assert.Equal(t, "active", points["alarm_state"])

	result, err = state.Execute(CmdClearAlarm, []string{"1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", result["cleared"])
	assert.Equal(t, StatusDisarmed, result["subsystem.1"])

	points, err = state.Read(nil)
	require.NoError(t, err)
	assert.Equal(t, "clear", points["alarm_state"])
}

func TestState_BypassedZoneCannotTrigger(t *testing.T) {
	state := NewState()

	result, err := state.Execute("bypass", []string{"2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "bypassed", result["zone.2"])

	_, err = state.Execute(CmdTrigger, []string{"2", "2"}, nil)
	assert.EqualError(t, err, "zone 2 is bypassed")

	_, err = state.Execute(CmdReinstate, []string{"2"}, nil)
	require.NoError(t, err)
	result, err = state.Execute(CmdTrigger, []string{"2", "2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "active", result["alarm_state"])
}

func TestState_Errors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		want    string
	}{
		{"unknown command", "SELF_DESTRUCT", nil, `unknown command "SELF_DESTRUCT"`},
		{"unknown subsystem", CmdArm, []string{"7"}, `unknown subsystem "7"`},
		{"missing zone", CmdBypass, nil, "BYPASS requires a zone id"},
		{"unknown zone", CmdBypass, []string{"9"}, `unknown zone "9"`},
		{"unknown sensor", CmdSetSensor, []string{"smoke", "1"}, `unknown sensor "smoke"`},
		{"bad sensor value", CmdSetSensor, []string{"water", "wet"}, `invalid sensor value "wet"`},
		{"bad config pair", CmdSetConfig, []string{"volume"}, `SET_CONFIG expects key=value, got "volume"`},
		{"empty config", CmdSetConfig, nil, "SET_CONFIG requires at least one key=value pair"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewState().Execute(tt.command, tt.args, nil)
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestState_StoppedDevice(t *testing.T) {
	state := NewState()

	_, err := state.Execute(CmdStop, nil, nil)
	require.NoError(t, err)

	_, err = state.Execute(CmdArm, []string{"1"}, nil)
	assert.EqualError(t, err, "device is stopped")

	// diagnostics and configuration still work while stopped
	result, err := state.Execute(CmdDiagnostic, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "pass", result["diagnostic"])

	result, err = state.Execute(CmdSetConfig, []string{"volume=3"}, map[string]string{"tone": "low"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"config.volume": "3", "config.tone": "low"}, result)

	_, err = state.Execute(CmdReset, nil, nil)
	require.NoError(t, err)
	points, err := state.Read(nil)
	require.NoError(t, err)
	assert.Equal(t, "true", points["running"])
	assert.NotContains(t, points, "config.volume")
}

func TestState_SetSensor(t *testing.T) {
	state := NewState()

	result, err := state.Execute(CmdSetSensor, []string{"water", "3.25"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "3.3", result["sensor.water"])
}

// The simulator must understand every request the bridge codecs produce
func TestParseRequest_CodecInterop(t *testing.T) {
	query := map[string]string{PointsParam: "battery_voltage,zone.1"}

	for _, format := range []model.Format{model.FormatJSON, model.FormatXML, model.FormatCSV, model.FormatRawLine} {
		t.Run(string(format), func(t *testing.T) {
			c, err := codec.New(format)
			require.NoError(t, err)

			encoded, err := c.Encode(model.NewReadDataOperation(query))
			require.NoError(t, err)

			req, err := ParseRequest(format, encoded)
			require.NoError(t, err)
			assert.Equal(t, CmdGetData, req.Command)
			assert.Equal(t, "battery_voltage,zone.1", req.Params[PointsParam])
		})
	}
}

func TestParseRequest_Commands(t *testing.T) {
	tests := []struct {
		name   string
		format model.Format
		line   string
		want   *Request
	}{
		{
			name:   "raw line with params",
			format: model.FormatRawLine,
			line:   "set_config volume=3 extra\n",
			want:   &Request{Command: CmdSetConfig, Args: []string{"extra"}, Params: map[string]string{"volume": "3"}},
		},
		{
			name:   "json command string",
			format: model.FormatJSON,
			line:   `CMD:{"command":"ARM 2"}` + "\n",
			want:   &Request{Command: CmdArm, Args: []string{"2"}, Params: map[string]string{}},
		},
		{
			name:   "json args",
			format: model.FormatJSON,
			line:   `CMD:{"command":"TRIGGER","args":[1,"2"]}`,
			want:   &Request{Command: CmdTrigger, Args: []string{"1", "2"}, Params: map[string]string{}},
		},
		{
			name:   "xml command text",
			format: model.FormatXML,
			line:   "CMD\n<command>BYPASS 3</command>\nEND\n",
			want:   &Request{Command: CmdBypass, Args: []string{"3"}, Params: map[string]string{}},
		},
		{
			name:   "xml command params",
			format: model.FormatXML,
			line:   "CMD\r\n<command>SET_CONFIG<param name=\"tone\">low</param></command>\r\nEND\r\n",
			want:   &Request{Command: CmdSetConfig, Params: map[string]string{"tone": "low"}},
		},
		{
			name:   "xml data request line",
			format: model.FormatXML,
			line:   "get_data points=zone.1\n",
			want:   &Request{Command: CmdGetData, Params: map[string]string{PointsParam: "zone.1"}},
		},
		{
			name:   "csv record",
			format: model.FormatCSV,
			line:   "DISARM,2\n",
			want:   &Request{Command: CmdDisarm, Args: []string{"2"}, Params: map[string]string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(tt.format, []byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, req)
		})
	}
}

func TestParseRequest_Invalid(t *testing.T) {
	_, err := ParseRequest(model.FormatRawLine, []byte("  \n"))
	assert.EqualError(t, err, "empty request")

	_, err = ParseRequest(model.FormatJSON, []byte(`CMD:{"args":[1]}`))
	assert.EqualError(t, err, "missing command")

	_, err = ParseRequest(model.FormatJSON, []byte(`CMD:{"command":`))
	assert.Error(t, err)

	_, err = ParseRequest(model.FormatJSON, []byte("CMD:\n"))
	assert.EqualError(t, err, "empty request")

	_, err = ParseRequest(model.FormatXML, []byte("CMD\n<status>ok</status>\nEND\n"))
	assert.EqualError(t, err, "unsupported request element <status>")
}

// Requests the bridge codecs produce survive the server's reader intact
func TestReadRequest_Framing(t *testing.T) {
	tests := []struct {
		name   string
		format model.Format
		op     *model.Operation
		want   string
	}{
		{"json read", model.FormatJSON, model.NewReadDataOperation(nil), "GET_DATA\n"},
		{"json command", model.FormatJSON, model.NewSendCommandOperation([]byte(`{"command":"ARM 1"}`), model.FormatJSON, false), `CMD:{"command":"ARM 1"}` + "\n"},
		{"xml read", model.FormatXML, model.NewReadDataOperation(nil), "GET_DATA\n"},
		{"xml command", model.FormatXML, model.NewSendCommandOperation([]byte("BYPASS 3"), model.FormatXML, false), "CMD\n<command>BYPASS 3</command>\nEND\n"},
		{"csv command", model.FormatCSV, model.NewSendCommandOperation([]byte("DISARM,2"), model.FormatCSV, false), "DISARM,2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := codec.New(tt.format)
			require.NoError(t, err)
			encoded, err := c.Encode(tt.op)
			require.NoError(t, err)

			// trailing bytes belong to the next request
			stream := append(append([]byte{}, encoded...), "TRAILING\n"...)
			request, err := ReadRequest(bufio.NewReader(bytes.NewReader(stream)), tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(request))

			_, err = ParseRequest(tt.format, request)
			assert.NoError(t, err)
		})
	}
}

func TestReadRequest_UnterminatedXMLBlock(t *testing.T) {
	request, err := ReadRequest(bufio.NewReader(strings.NewReader("CMD\n<command>ARM 1</command>\n")), model.FormatXML)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "CMD\n<command>ARM 1</command>\n", string(request))
}

func TestRenderError_RecognisedAsRejection(t *testing.T) {
	for _, format := range []model.Format{model.FormatJSON, model.FormatXML, model.FormatCSV, model.FormatRawLine} {
		t.Run(string(format), func(t *testing.T) {
			c, err := codec.New(format)
			require.NoError(t, err)

			decoded, err := c.Decode(RenderError(format, "zone 2 is bypassed"))
			require.NoError(t, err)

			detail, rejected := c.Rejection(decoded)
			assert.True(t, rejected)
			assert.Contains(t, detail, "zone 2 is bypassed")
		})
	}
}

func TestParseBehavior(t *testing.T) {
	behavior, err := ParseBehavior("Linger")
	require.NoError(t, err)
	assert.Equal(t, BehaviorLinger, behavior)

	_, err = ParseBehavior("explode")
	assert.EqualError(t, err, `unknown behavior "explode"`)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(ServerConfig{Format: model.FormatJSON}, nil, nil)
	assert.Error(t, err)

	_, err = NewServer(ServerConfig{Format: "YAML"}, NewState(), nil)
	assert.EqualError(t, err, `unsupported format "YAML"`)

	_, err = NewServer(ServerConfig{Format: model.FormatJSON, Behavior: "explode"}, NewState(), nil)
	assert.Error(t, err)
}

type harness struct {
	server     *Server
	dispatcher *service.Dispatcher
}

// startDevice runs a simulated device on loopback and points a dispatcher at it
func startDevice(t *testing.T, format model.Format, behavior Behavior, eager bool) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	server, err := NewServer(ServerConfig{
		Address:  "127.0.0.1:0",
		Format:   format,
		Behavior: behavior,
	}, NewState(), logger)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })

	host, portText, err := net.SplitHostPort(server.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	endpoint, err := model.NewDeviceEndpoint(host, uint16(port), time.Second, 300*time.Millisecond)
	require.NoError(t, err)
	transport := protocol.NewTCPTransport(&protocol.TCPConfig{Endpoint: endpoint, MaxResponseBytes: 64 * 1024}, logger)

	dispatcher, err := service.NewDispatcher(transport, format, model.DeviceInfo{DeviceName: "Alarm Host"}, logger,
		service.WithEagerFraming(eager))
	require.NoError(t, err)

	return &harness{server: server, dispatcher: dispatcher}
}

func TestEndToEnd_JSON(t *testing.T) {
	h := startDevice(t, model.FormatJSON, BehaviorNormal, false)
	ctx := context.Background()

	resp, err := h.dispatcher.ReadData(ctx, map[string]string{PointsParam: "battery_voltage"})
	require.NoError(t, err)
	assert.Equal(t, model.TerminationPeerClosed, resp.Exchange.Termination)
	assert.Equal(t, map[string]interface{}{
		"status": "ok",
		"data":   map[string]interface{}{"battery_voltage": "12.6"},
	}, resp.Decoded)

	resp, err = h.dispatcher.SendCommand(ctx, []byte(`{"command":"ARM 1"}`), "", true)
	require.NoError(t, err)
	data := resp.Decoded.(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, StatusArmed, data["subsystem.1"])
}

func TestEndToEnd_XML(t *testing.T) {
	h := startDevice(t, model.FormatXML, BehaviorNormal, false)
	ctx := context.Background()

	resp, err := h.dispatcher.ReadData(ctx, nil)
	require.NoError(t, err)
	root, ok := resp.Decoded.(*codec.Element)
	require.True(t, ok)
	assert.Equal(t, "response", root.Name)
	require.NotNil(t, root.Child("battery_voltage"))
	assert.Equal(t, "12.6", root.Child("battery_voltage").Text)

	resp, err = h.dispatcher.SendCommand(ctx, []byte("BYPASS 3"), "", true)
	require.NoError(t, err)
	root = resp.Decoded.(*codec.Element)
	require.NotNil(t, root.Child("zone.3"))
	assert.Equal(t, "bypassed", root.Child("zone.3").Text)
}

func TestEndToEnd_CSV(t *testing.T) {
	h := startDevice(t, model.FormatCSV, BehaviorNormal, false)

	resp, err := h.dispatcher.ReadData(context.Background(), map[string]string{PointsParam: "zone.2,running"})
	require.NoError(t, err)
	table, ok := resp.Decoded.(*codec.Table)
	require.True(t, ok)
	assert.Equal(t, []string{"point", "value"}, table.Header)
	assert.Equal(t, [][]string{{"running", "true"}, {"zone.2", "active"}}, table.Rows)
}

func TestEndToEnd_RawLine(t *testing.T) {
	h := startDevice(t, model.FormatRawLine, BehaviorNormal, true)

	resp, err := h.dispatcher.SendCommand(context.Background(), []byte("SET_SENSOR noise 42"), "", true)
	require.NoError(t, err)
	assert.Equal(t, "OK sensor.noise=42.0", resp.Decoded)
	assert.Equal(t, model.TerminationMarker, resp.Exchange.Termination)
}

func TestEndToEnd_Rejected(t *testing.T) {
	for _, format := range []model.Format{model.FormatJSON, model.FormatXML, model.FormatCSV, model.FormatRawLine} {
		t.Run(string(format), func(t *testing.T) {
			h := startDevice(t, format, BehaviorNormal, false)

			resp, err := h.dispatcher.ReadData(context.Background(), map[string]string{PointsParam: "voltage"})
			assert.Nil(t, resp)
			require.Error(t, err)
			assert.True(t, model.IsKind(err, model.ErrorKindDeviceRejected), "got %v", err)
			assert.Contains(t, err.Error(), "unknown data point")
		})
	}
}

func TestEndToEnd_Behaviors(t *testing.T) {
	t.Run("silent times out", func(t *testing.T) {
		h := startDevice(t, model.FormatJSON, BehaviorSilent, true)
		_, err := h.dispatcher.ReadData(context.Background(), nil)
		assert.True(t, model.IsKind(err, model.ErrorKindTimeout), "got %v", err)
	})

	t.Run("close yields no data", func(t *testing.T) {
		h := startDevice(t, model.FormatJSON, BehaviorClose, true)
		_, err := h.dispatcher.ReadData(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, model.IsKind(err, model.ErrorKindMalformedDeviceReply), "got %v", err)
		assert.Contains(t, err.Error(), "device returned no data")
	})

	t.Run("partial line is still a success", func(t *testing.T) {
		h := startDevice(t, model.FormatRawLine, BehaviorPartial, true)
		resp, err := h.dispatcher.ReadData(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, resp.Exchange.Partial)
		assert.Equal(t, model.TerminationTimeout, resp.Exchange.Termination)
		assert.IsType(t, "", resp.Decoded)
	})

	t.Run("truncated document is malformed", func(t *testing.T) {
		h := startDevice(t, model.FormatJSON, BehaviorPartial, true)
		_, err := h.dispatcher.ReadData(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, model.IsKind(err, model.ErrorKindMalformedDeviceReply), "got %v", err)
		assert.Contains(t, err.Error(), "truncated")
	})

	t.Run("garbage is malformed", func(t *testing.T) {
		for _, format := range []model.Format{model.FormatJSON, model.FormatXML} {
			h := startDevice(t, format, BehaviorGarbage, false)
			_, err := h.dispatcher.ReadData(context.Background(), nil)
			assert.True(t, model.IsKind(err, model.ErrorKindMalformedDeviceReply), "%s: got %v", format, err)
		}
	})

	t.Run("linger ends on the completion marker", func(t *testing.T) {
		h := startDevice(t, model.FormatXML, BehaviorLinger, true)
		start := time.Now()
		resp, err := h.dispatcher.ReadData(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, model.TerminationMarker, resp.Exchange.Termination)
		assert.False(t, resp.Exchange.Partial)
		assert.Less(t, time.Since(start), 300*time.Millisecond)
	})

	t.Run("linger without framing runs to the timeout", func(t *testing.T) {
		h := startDevice(t, model.FormatRawLine, BehaviorLinger, false)
		resp, err := h.dispatcher.ReadData(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, model.TerminationTimeout, resp.Exchange.Termination)
		assert.True(t, resp.Exchange.Partial)
	})
}

func TestServer_StopClosesHeldConnections(t *testing.T) {
	h := startDevice(t, model.FormatRawLine, BehaviorSilent, false)

	conn, err := net.Dial("tcp", h.server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("GET_DATA\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.server.Requests() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.server.ConnectionCount())

	require.NoError(t, h.server.Stop())
	assert.Equal(t, 0, h.server.ConnectionCount())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}
