// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge forwards gateway state to MQTT and Redis and accepts
// setpoint commands from MQTT.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/otgwstat/internal/config"
	"github.com/Thermoquad/otgwstat/pkg/accessory"
	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// ErrUnknownTopic is returned for set topics the bridge does not handle.
var ErrUnknownTopic = errors.New("unknown topic")

const commandTimeout = 30 * time.Second

// Publisher is the part of mqtt.Client the bridge publishes through.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes every decoded field under <prefix>/field/<key> and each
// accessory under <prefix>/<accessory>/state. Setpoints and raw commands
// arrive on the topics listed in Topics.
//
// Topics:
//
//	<prefix>/status                          online / offline (retained, LWT)
//	<prefix>/thermostat/temperature/set      TT=<v>
//	<prefix>/thermostat/mode/set             auto clears the override (TT=0)
//	<prefix>/hotwater/temperature/set        SW=<v>
//	<prefix>/hotwater/mode/set               off / heat / auto (HW=0|1|A)
//	<prefix>/command                         raw command, reply on <prefix>/command/response
type MQTT struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	pub    Publisher
	gw     accessory.Commander
	set    *accessory.Set
	log    logrus.FieldLogger
}

// NewMQTT creates the bridge. Call Connect to open the broker connection.
func NewMQTT(cfg config.MQTTConfig, gw accessory.Commander, set *accessory.Set, log logrus.FieldLogger) *MQTT {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MQTT{
		cfg: cfg,
		gw:  gw,
		set: set,
		log: log.WithField("component", "mqtt"),
	}
}

func (b *MQTT) topic(parts ...string) string {
	return b.cfg.TopicPrefix + "/" + strings.Join(parts, "/")
}

// Connect opens the broker connection. The client reconnects on its own;
// a failed first attempt is only logged.
func (b *MQTT) Connect() {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	// Command handlers block on the gateway
	opts.SetOrderMatters(false)
	opts.SetWill(b.topic("status"), "offline", 1, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.log.Infof("connected to MQTT broker %s", b.cfg.Broker)
		c.Subscribe(b.topic("+", "temperature", "set"), 1, b.onMessage)
		c.Subscribe(b.topic("+", "mode", "set"), 1, b.onMessage)
		c.Subscribe(b.topic("command"), 1, b.onMessage)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		b.log.Warnf("MQTT connection lost: %v", err)
	})

	b.client = mqtt.NewClient(opts)
	b.pub = b.client
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		b.log.Warnf("could not connect to MQTT broker, will retry in background: %v", token.Error())
	}
}

// Close publishes offline and disconnects.
func (b *MQTT) Close() {
	if b.client == nil {
		return
	}
	b.publish(b.topic("status"), "offline", true).WaitTimeout(time.Second)
	b.client.Disconnect(250)
}

func (b *MQTT) publish(topic, payload string, retained bool) mqtt.Token {
	b.log.Debugf("MQTT PUB %s %s", topic, payload)
	return b.pub.Publish(topic, 0, retained, payload)
}

func (b *MQTT) publishFields(fields opentherm.Fields) {
	if b.pub == nil {
		return
	}
	for _, key := range fields.Keys() {
		b.publish(b.topic("field", key), FormatValue(fields[key]), b.cfg.Retain)
	}
}

// FormatValue renders a field value as an MQTT payload.
func FormatValue(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// accessoryState is the JSON payload of <prefix>/<accessory>/state.
type accessoryState struct {
	State             string  `json:"state"`
	TargetState       string  `json:"target_state"`
	Temperature       float64 `json:"temperature"`
	TargetTemperature float64 `json:"target_temperature"`
	TargetMin         float64 `json:"target_min,omitempty"`
	TargetMax         float64 `json:"target_max,omitempty"`
	ValvePosition     float64 `json:"valve_position"`
	Override          bool    `json:"override"`
	LastUpdated       string  `json:"last_updated,omitempty"`
}

// EncodeAccessory renders an accessory status as JSON.
func EncodeAccessory(s accessory.Status) ([]byte, error) {
	st := accessoryState{
		State:             s.State.String(),
		TargetState:       s.TargetState.String(),
		Temperature:       s.Temperature,
		TargetTemperature: s.TargetTemperature,
		TargetMin:         s.TargetRange.Min,
		TargetMax:         s.TargetRange.Max,
		ValvePosition:     s.ValvePosition,
		Override:          s.Override,
	}
	if !s.LastUpdated.IsZero() {
		st.LastUpdated = s.LastUpdated.Format(time.RFC3339)
	}
	return json.Marshal(st)
}

// PublishAccessory publishes one accessory's state. Use it as
// accessory.Set.OnChange.
func (b *MQTT) PublishAccessory(a accessory.Accessory) {
	if b.pub == nil {
		return
	}
	payload, err := EncodeAccessory(a.Status())
	if err != nil {
		b.log.Errorf("failed to marshal %s state: %v", a.Name(), err)
		return
	}
	b.publish(b.topic(strings.ToLower(a.Name()), "state"), string(payload), b.cfg.Retain)
}

func (b *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	payload := strings.TrimSpace(string(msg.Payload()))
	b.log.Infof("received %s: %s", msg.Topic(), payload)
	if err := b.Route(ctx, msg.Topic(), payload); err != nil {
		b.log.Warnf("%s: %v", msg.Topic(), err)
	}
}

// Route executes the command a set topic stands for.
func (b *MQTT) Route(ctx context.Context, topic, payload string) error {
	rest, ok := strings.CutPrefix(topic, b.cfg.TopicPrefix+"/")
	if !ok {
		return fmt.Errorf("%s: %w", topic, ErrUnknownTopic)
	}

	switch rest {
	case "command":
		resp, err := b.gw.Command(ctx, payload)
		if err != nil {
			resp = "error: " + err.Error()
		}
		if b.pub != nil {
			b.publish(b.topic("command", "response"), resp, false)
		}
		return err

	case "thermostat/temperature/set":
		v, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q", payload)
		}
		return b.set.Thermostat.SetTargetTemperature(ctx, v)

	case "thermostat/mode/set":
		state, err := accessory.ParseTargetState(payload)
		if err != nil {
			return err
		}
		return b.set.Thermostat.SetTargetState(ctx, state)

	case "hotwater/temperature/set":
		v, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q", payload)
		}
		return b.set.HotWater.SetTargetTemperature(ctx, v)

	case "hotwater/mode/set":
		state, err := accessory.ParseTargetState(payload)
		if err != nil {
			return err
		}
		return b.set.HotWater.SetTargetState(ctx, state)
	}

	return fmt.Errorf("%s: %w", topic, ErrUnknownTopic)
}

// otgw.Handler

func (b *MQTT) StateUpdate(source string, fields opentherm.Fields) {
	b.publishFields(fields)
}

func (b *MQTT) Snapshot(fields opentherm.Fields) {
	b.publishFields(fields)
}

func (b *MQTT) PriorityResult(id byte, fields opentherm.Fields) {}

func (b *MQTT) DecodeWarning(err error) {}

// otgw.ConnectionHandler

func (b *MQTT) Connected(name string) {}

func (b *MQTT) Disconnected(err error) {
	if b.pub != nil {
		b.publish(b.topic("status"), "offline", true)
	}
}

func (b *MQTT) Ready(info otgw.Info, bounds otgw.Boundaries) {
	if b.pub == nil {
		return
	}
	b.publish(b.topic("status"), "online", true)
	b.publish(b.topic("gateway", "version"), info.Version, true)
	for _, a := range b.set.All() {
		b.PublishAccessory(a)
	}
}
