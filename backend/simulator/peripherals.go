package simulator

import (
	"context"
	"os"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/attributes"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Demo returns a set of peripherals resembling common development boards and sensors.
func Demo() []PeripheralSpec {
	return []PeripheralSpec{
		{
			ID:       "F1:3A:2C:00:00:01",
			Name:     "NordicHRM 52",
			RSSI:     -54,
			Retained: true,
			Advertised: []uuid.UUID{
				attributes.ServiceHeartRate,
			},
			Services: []ServiceSpec{
				{
					ID:      attributes.ServiceHeartRate,
					Primary: true,
					Characteristics: []CharacteristicSpec{
						{ID: attributes.CharacteristicHeartRate, Notify: true},
						{ID: attributes.CharacteristicBodySensorLocation, Read: true, Value: []byte{0x01}},
					},
				},
				{
					ID:      attributes.ServiceBattery,
					Primary: true,
					Characteristics: []CharacteristicSpec{
						{ID: attributes.CharacteristicBatteryLevel, Read: true, Notify: true, Value: []byte{0x5A}},
					},
				},
			},
		},
		{
			ID:   "F1:3A:2C:00:00:02",
			Name: "Thingy 52",
			RSSI: -67,
			Services: []ServiceSpec{
				{
					ID:      attributes.ServiceEnvironmentSensing,
					Primary: true,
					Characteristics: []CharacteristicSpec{
						{ID: attributes.CharacteristicTemperature, Read: true, Notify: true, Value: []byte{0x34, 0x08}},
						{ID: attributes.CharacteristicHumidity, Read: true, Notify: true, Value: []byte{0x8C, 0x11}},
						{ID: attributes.CharacteristicPressure, Read: true, Value: []byte{0x02, 0x76, 0x0F, 0x00}},
					},
				},
			},
		},
		{
			ID:   "F1:3A:2C:00:00:03",
			Name: "nRF Blinky",
			RSSI: -72,
			Services: []ServiceSpec{
				{
					ID:      attributes.ServiceNordicLEDButton,
					Primary: true,
					Characteristics: []CharacteristicSpec{
						{ID: attributes.CharacteristicNordicButton, Read: true, Notify: true, Value: []byte{0x00}},
						{ID: attributes.CharacteristicNordicLED, Read: true, Value: []byte{0x00}},
					},
				},
			},
		},
		{
			ID:   "F1:3A:2C:00:00:04",
			Name: "Living Room TV",
			RSSI: -80,
		},
	}
}

type peripheralFile struct {
	Peripherals []PeripheralSpec `yaml:"peripherals"`
}

// LoadPeripherals reads simulated peripherals from a YAML file of the form:
//
//	peripherals:
//	  - id: F1:3A:2C:00:00:01
//	    name: NordicHRM 52
//	    rssi: -54
//	    services:
//	      - id: "180D"
//	        primary: true
//	        characteristics:
//	          - id: "2A37"
//	            notify: true
//
// Identifiers may be given in their 16-bit short form.
func LoadPeripherals(path string) ([]PeripheralSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "path", path),
			ftag.With(ftag.NotFound),
			fmsg.With("Cannot read simulated peripherals"),
		)
	}

	var file peripheralFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "path", path),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Cannot parse simulated peripherals"),
		)
	}

	return file.Peripherals, nil
}

// UnmarshalYAML decodes a peripheral, accepting short service identifiers.
func (p *PeripheralSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID          string        `yaml:"id"`
		Name        string        `yaml:"name"`
		RSSI        int           `yaml:"rssi"`
		Advertised  []string      `yaml:"advertised"`
		Services    []ServiceSpec `yaml:"services"`
		Retained    bool          `yaml:"retained"`
		HoldConnect bool          `yaml:"hold_connect"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	advertised, err := attributes.ParseAll(raw.Advertised)
	if err != nil {
		return err
	}

	*p = PeripheralSpec{
		ID:          bluetooth.PeripheralID(raw.ID),
		Name:        raw.Name,
		RSSI:        raw.RSSI,
		Advertised:  advertised,
		Services:    raw.Services,
		Retained:    raw.Retained,
		HoldConnect: raw.HoldConnect,
	}

	return nil
}

// UnmarshalYAML decodes a service, accepting a short identifier.
func (s *ServiceSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID              string               `yaml:"id"`
		Primary         bool                 `yaml:"primary"`
		Characteristics []CharacteristicSpec `yaml:"characteristics"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	id, err := attributes.Parse(raw.ID)
	if err != nil {
		return err
	}

	*s = ServiceSpec{ID: id, Primary: raw.Primary, Characteristics: raw.Characteristics}

	return nil
}

// UnmarshalYAML decodes a characteristic, accepting a short identifier.
func (c *CharacteristicSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID     string `yaml:"id"`
		Read   bool   `yaml:"read"`
		Notify bool   `yaml:"notify"`
		Value  []byte `yaml:"value"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	id, err := attributes.Parse(raw.ID)
	if err != nil {
		return err
	}

	*c = CharacteristicSpec{ID: id, Read: raw.Read, Notify: raw.Notify, Value: raw.Value}

	return nil
}
