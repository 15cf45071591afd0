package schemas

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Details is the typed view of an entity's property bag. Each EntityKind has its own
// variant with the fields the engine understands; everything else lands in Extra.
type Details interface {
	Kind() EntityKind
	Unknown() map[string]interface{}
}

// EmailDetails is the typed view of an Email entity.
type EmailDetails struct {
	Address     string                 `mapstructure:"address"`
	BreachCount *float64               `mapstructure:"breach_count"`
	Score       *float64               `mapstructure:"score"` // deliverability score, 0-100
	Deliverable *bool                  `mapstructure:"deliverable"`
	Extra       map[string]interface{} `mapstructure:",remain"`
}

func (EmailDetails) Kind() EntityKind                  { return KindEmail }
func (d EmailDetails) Unknown() map[string]interface{} { return d.Extra }

// DomainDetails is the typed view of a Domain entity.
type DomainDetails struct {
	Name          string                 `mapstructure:"name"`
	DomainAgeDays *float64               `mapstructure:"domain_age_days"`
	Registrar     string                 `mapstructure:"registrar"`
	Extra         map[string]interface{} `mapstructure:",remain"`
}

func (DomainDetails) Kind() EntityKind                  { return KindDomain }
func (d DomainDetails) Unknown() map[string]interface{} { return d.Extra }

// IPDetails is the typed view of an IP entity.
type IPDetails struct {
	Address   string                 `mapstructure:"address"`
	IsProxy   *bool                  `mapstructure:"is_proxy"`
	IsHosting *bool                  `mapstructure:"is_hosting"`
	Country   string                 `mapstructure:"country"`
	Extra     map[string]interface{} `mapstructure:",remain"`
}

func (IPDetails) Kind() EntityKind                  { return KindIP }
func (d IPDetails) Unknown() map[string]interface{} { return d.Extra }

// GenericDetails covers kinds without a dedicated schema.
type GenericDetails struct {
	EntityKind EntityKind             `mapstructure:"-"`
	Name       string                 `mapstructure:"name"`
	Address    string                 `mapstructure:"address"`
	Extra      map[string]interface{} `mapstructure:",remain"`
}

func (d GenericDetails) Kind() EntityKind                { return d.EntityKind }
func (d GenericDetails) Unknown() map[string]interface{} { return d.Extra }

type fieldType int

const (
	fieldString fieldType = iota
	fieldNumber
	fieldBool
)

// Known field schemas per variant.
var (
	emailFields   = map[string]fieldType{"address": fieldString, "breach_count": fieldNumber, "score": fieldNumber, "deliverable": fieldBool}
	domainFields  = map[string]fieldType{"name": fieldString, "domain_age_days": fieldNumber, "registrar": fieldString}
	ipFields      = map[string]fieldType{"address": fieldString, "is_proxy": fieldBool, "is_hosting": fieldBool, "country": fieldString}
	genericFields = map[string]fieldType{"name": fieldString, "address": fieldString}
)

// DecodeDetails builds the typed view for an entity. It never fails on unknown
// or mistyped fields; a non-nil error indicates a decoder construction problem.
func DecodeDetails(e Entity) (Details, error) {
	switch e.Kind {
	case KindEmail:
		var d EmailDetails
		return d, decodeInto(e.Properties, emailFields, &d)
	case KindDomain:
		var d DomainDetails
		return d, decodeInto(e.Properties, domainFields, &d)
	case KindIP:
		var d IPDetails
		return d, decodeInto(e.Properties, ipFields, &d)
	default:
		d := GenericDetails{EntityKind: e.Kind}
		err := decodeInto(e.Properties, genericFields, &d)
		d.EntityKind = e.Kind
		return d, err
	}
}

func decodeInto(props Properties, fields map[string]fieldType, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to build details decoder: %w", err)
	}
	if err := decoder.Decode(normalize(props, fields)); err != nil {
		return fmt.Errorf("failed to decode entity details: %w", err)
	}
	return nil
}

// normalize coerces known fields to their declared Go types. Null values are dropped
// and mistyped values are renamed with a raw_ prefix so they end up in Extra.
func normalize(props Properties, fields map[string]fieldType) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		if v == nil {
			continue
		}
		ft, known := fields[k]
		if !known {
			out[k] = v
			continue
		}
		switch ft {
		case fieldString:
			if s, ok := props.String(k); ok {
				out[k] = s
				continue
			}
		case fieldNumber:
			if n, ok := props.Number(k); ok {
				out[k] = n
				continue
			}
		case fieldBool:
			if b, ok := props.Bool(k); ok {
				out[k] = b
				continue
			}
		}
		out["raw_"+k] = v
	}
	return out
}
