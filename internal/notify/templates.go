package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/template"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) valid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelWhatsApp
}

// Message is one rendered notification ready for a channel.
type Message struct {
	Channel Channel `json:"channel"`
	To      string  `json:"to"`
	Subject string  `json:"subject,omitempty"`
	Body    string  `json:"body"`
}

type templateDef struct {
	To      string `yaml:"to"`
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type compiled struct {
	to      string
	subject *template.Template
	body    *template.Template
}

// Templates holds the parsed message templates keyed by event and channel.
type Templates struct {
	byEvent map[string]map[Channel]*compiled
}

func LoadTemplates(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return ParseTemplates(data)
}

func ParseTemplates(data []byte) (*Templates, error) {
	var raw map[string]map[Channel]templateDef
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	t := &Templates{byEvent: make(map[string]map[Channel]*compiled, len(raw))}
	for event, channels := range raw {
		t.byEvent[event] = make(map[Channel]*compiled, len(channels))
		for ch, def := range channels {
			if !ch.valid() {
				return nil, fmt.Errorf("%s: unknown channel %q", event, ch)
			}
			if def.To == "" || def.Body == "" {
				return nil, fmt.Errorf("%s/%s: to and body are required", event, ch)
			}
			c := &compiled{to: def.To}
			var err error
			if c.body, err = newTemplate(event+"/"+string(ch)+"/body", def.Body); err != nil {
				return nil, err
			}
			if def.Subject != "" {
				if c.subject, err = newTemplate(event+"/"+string(ch)+"/subject", def.Subject); err != nil {
					return nil, err
				}
			}
			t.byEvent[event][ch] = c
		}
	}
	return t, nil
}

func newTemplate(name, text string) (*template.Template, error) {
	tpl, err := template.New(name).Option("missingkey=error").Funcs(template.FuncMap{"money": money}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return tpl, nil
}

// Channels lists the channels configured for an event, in a stable order.
func (t *Templates) Channels(event string) []Channel {
	out := make([]Channel, 0, len(t.byEvent[event]))
	for ch := range t.byEvent[event] {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render builds the message for one channel. ok is false when the event has no
// template for the channel or the payload carries no recipient for it.
func (t *Templates) Render(event string, ch Channel, payload map[string]any) (msg *Message, ok bool, err error) {
	c, found := t.byEvent[event][ch]
	if !found {
		return nil, false, nil
	}
	to, _ := payload[c.to].(string)
	if to == "" {
		return nil, false, nil
	}

	msg = &Message{Channel: ch, To: to}
	if msg.Body, err = execute(c.body, payload); err != nil {
		return nil, false, err
	}
	if c.subject != nil {
		if msg.Subject, err = execute(c.subject, payload); err != nil {
			return nil, false, err
		}
	}
	return msg, true, nil
}

func execute(tpl *template.Template, payload map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return buf.String(), nil
}

// money renders a minor-unit amount as major units with two decimals.
// Payloads that crossed the bus carry numbers as float64 or json.Number.
func money(v any) (string, error) {
	var minor decimal.Decimal
	switch n := v.(type) {
	case int64:
		minor = decimal.NewFromInt(n)
	case int:
		minor = decimal.NewFromInt(int64(n))
	case float64:
		minor = decimal.NewFromFloat(n)
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return "", err
		}
		minor = d
	default:
		return "", fmt.Errorf("money: unsupported amount %T", v)
	}
	return minor.Shift(-2).StringFixed(2), nil
}
