// internal/simulator/state.go
package simulator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Subsystem statuses
const (
	StatusArmed    = "armed"
	StatusDisarmed = "disarmed"
)

// Commands understood by the simulated alarm host
const (
	CmdGetData    = "GET_DATA"
	CmdStart      = "START"
	CmdStop       = "STOP"
	CmdDiagnostic = "DIAGNOSTIC"
	CmdReset      = "RESET"
	CmdSetConfig  = "SET_CONFIG"
	CmdArm        = "ARM"
	CmdDisarm     = "DISARM"
	CmdClearAlarm = "CLEAR_ALARM"
	CmdBypass     = "BYPASS"
	CmdReinstate  = "REINSTATE"
	CmdTrigger    = "TRIGGER"
	CmdSetSensor  = "SET_SENSOR"
)

// PointsParam selects data points in a GET_DATA query
const PointsParam = "points"

var configKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Alarm is a raised zone alarm
type Alarm struct {
	Zone      string
	Subsystem string
	RaisedAt  time.Time
}

// State is the simulated alarm host. All methods are safe for concurrent use.
type State struct {
	mu          sync.Mutex
	running     bool
	subsystems  map[string]string
	zones       map[string]bool
	alarms      []Alarm
	sensors     map[string]decimal.Decimal
	battery     decimal.Decimal
	config      map[string]string
	diagnostics int
}

// NewState creates a host with two subsystems, three zones and idle sensors
func NewState() *State {
	s := &State{}
	s.reset()
	return s
}

func (s *State) reset() {
	s.running = true
	s.subsystems = map[string]string{"1": StatusDisarmed, "2": StatusArmed}
	s.zones = map[string]bool{"1": false, "2": false, "3": false}
	s.alarms = nil
	s.sensors = map[string]decimal.Decimal{
		"water":       decimal.Zero,
		"dust":        decimal.Zero,
		"noise":       decimal.Zero,
		"temperature": decimal.RequireFromString("21.5"),
	}
	s.battery = decimal.RequireFromString("12.6")
	s.config = map[string]string{}
	s.diagnostics = 0
}

// Read returns the data points selected by query. An empty query, or one
// without a points entry, selects every point.
func (s *State) Read(query map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := s.points()

	selection := strings.TrimSpace(query[PointsParam])
	if selection == "" {
		return points, nil
	}

	selected := make(map[string]string)
	for _, name := range strings.Split(selection, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value, ok := points[name]
		if !ok {
			return nil, fmt.Errorf("unknown data point %q", name)
		}
		selected[name] = value
	}
	return selected, nil
}

// Execute applies one command and returns the points it reports back
func (s *State) Execute(command string, args []string, params map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	command = strings.ToUpper(command)
	switch command {
	case CmdStart:
		s.running = true
		return map[string]string{"running": "true"}, nil
	case CmdStop:
		s.running = false
		return map[string]string{"running": "false"}, nil
	case CmdReset:
		s.reset()
		return map[string]string{"reset": "done"}, nil
	case CmdDiagnostic:
		s.diagnostics++
		return map[string]string{
			"diagnostic":      "pass",
			"runs":            fmt.Sprint(s.diagnostics),
			"battery_voltage": s.battery.StringFixed(1),
			"alarm_count":     fmt.Sprint(len(s.alarms)),
		}, nil
	case CmdSetConfig:
		return s.setConfig(args, params)
	}

	if !s.running {
		return nil, fmt.Errorf("device is stopped")
	}

	switch command {
	case CmdArm, CmdDisarm:
		id, err := requireArg(command, args, "subsystem")
		if err != nil {
			return nil, err
		}
		if _, ok := s.subsystems[id]; !ok {
			return nil, fmt.Errorf("unknown subsystem %q", id)
		}
		status := StatusArmed
		if command == CmdDisarm {
			status = StatusDisarmed
		}
		s.subsystems[id] = status
		return map[string]string{"subsystem." + id: status}, nil

	case CmdClearAlarm:
		return s.clearAlarms(args)

	case CmdBypass, CmdReinstate:
		zone, err := requireArg(command, args, "zone")
		if err != nil {
			return nil, err
		}
		if _, ok := s.zones[zone]; !ok {
			return nil, fmt.Errorf("unknown zone %q", zone)
		}
		s.zones[zone] = command == CmdBypass
		return map[string]string{"zone." + zone: zoneStatus(s.zones[zone])}, nil

	case CmdTrigger:
		return s.trigger(args)

	case CmdSetSensor:
		return s.setSensor(args)

	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func (s *State) setConfig(args []string, params map[string]string) (map[string]string, error) {
	updates := make(map[string]string, len(params))
	for key, value := range params {
		updates[key] = value
	}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("SET_CONFIG expects key=value, got %q", arg)
		}
		updates[key] = value
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("SET_CONFIG requires at least one key=value pair")
	}

	result := make(map[string]string, len(updates))
	for key, value := range updates {
		if !configKeyPattern.MatchString(key) {
			return nil, fmt.Errorf("invalid config key %q", key)
		}
		result["config."+key] = value
	}
	for key, value := range updates {
		s.config[key] = value
	}
	return result, nil
}

func (s *State) clearAlarms(args []string) (map[string]string, error) {
	if len(args) == 0 {
		cleared := len(s.alarms)
		s.alarms = nil
		for id := range s.subsystems {
			s.subsystems[id] = StatusDisarmed
		}
		return map[string]string{"cleared": fmt.Sprint(cleared)}, nil
	}

	id := args[0]
	if _, ok := s.subsystems[id]; !ok {
		return nil, fmt.Errorf("unknown subsystem %q", id)
	}

	kept := s.alarms[:0]
	for _, alarm := range s.alarms {
		if alarm.Subsystem != id {
			kept = append(kept, alarm)
		}
	}
	cleared := len(s.alarms) - len(kept)
	s.alarms = kept
	s.subsystems[id] = StatusDisarmed

	return map[string]string{"cleared": fmt.Sprint(cleared), "subsystem." + id: StatusDisarmed}, nil
}

func (s *State) trigger(args []string) (map[string]string, error) {
	zone, err := requireArg(CmdTrigger, args, "zone")
	if err != nil {
		return nil, err
	}
	bypassed, ok := s.zones[zone]
	if !ok {
		return nil, fmt.Errorf("unknown zone %q", zone)
	}
	if bypassed {
		return nil, fmt.Errorf("zone %s is bypassed", zone)
	}

	subsystem := "1"
	if len(args) > 1 {
		subsystem = args[1]
	}
	if s.subsystems[subsystem] != StatusArmed {
		return map[string]string{"zone." + zone: "ignored", "subsystem." + subsystem: s.subsystems[subsystem]}, nil
	}

	s.alarms = append(s.alarms, Alarm{Zone: zone, Subsystem: subsystem, RaisedAt: time.Now()})
	return map[string]string{"alarm_state": "active", "alarm_count": fmt.Sprint(len(s.alarms))}, nil
}

func (s *State) setSensor(args []string) (map[string]string, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("SET_SENSOR requires a sensor name and a value")
	}
	name := args[0]
	if _, ok := s.sensors[name]; !ok {
		return nil, fmt.Errorf("unknown sensor %q", name)
	}
	value, err := decimal.NewFromString(args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sensor value %q", args[1])
	}
	s.sensors[name] = value
	return map[string]string{"sensor." + name: value.StringFixed(1)}, nil
}

// points renders the full data point table. Callers hold s.mu.
func (s *State) points() map[string]string {
	points := map[string]string{
		"running":         fmt.Sprint(s.running),
		"alarm_state":     "clear",
		"alarm_count":     fmt.Sprint(len(s.alarms)),
		"battery_voltage": s.battery.StringFixed(1),
	}
	if len(s.alarms) > 0 {
		points["alarm_state"] = "active"
	}
	for id, status := range s.subsystems {
		points["subsystem."+id] = status
	}
	for id, bypassed := range s.zones {
		points["zone."+id] = zoneStatus(bypassed)
	}
	for name, value := range s.sensors {
		points["sensor."+name] = value.StringFixed(1)
	}
	for key, value := range s.config {
		points["config."+key] = value
	}
	return points
}

func zoneStatus(bypassed bool) string {
	if bypassed {
		return "bypassed"
	}
	return "active"
}

func requireArg(command string, args []string, name string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", fmt.Errorf("%s requires a %s id", command, name)
	}
	return args[0], nil
}

// sortedKeys returns the keys of a point table in a stable order
func sortedKeys(points map[string]string) []string {
	keys := make([]string, 0, len(points))
	for key := range points {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
