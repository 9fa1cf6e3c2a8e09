package attributes

import "github.com/google/uuid"

// Well-known service identifiers.
var (
	ServiceGenericAccess      = Short(0x1800)
	ServiceGenericAttribute   = Short(0x1801)
	ServiceCurrentTime        = Short(0x1805)
	ServiceDeviceInformation  = Short(0x180A)
	ServiceHeartRate          = Short(0x180D)
	ServiceBattery            = Short(0x180F)
	ServiceEnvironmentSensing = Short(0x181A)

	ServiceNordicLEDButton = uuid.MustParse("00001523-1212-efde-1523-785feabcd123")
	ServiceNordicUART      = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
)

// Well-known characteristic identifiers.
var (
	CharacteristicDeviceName         = Short(0x2A00)
	CharacteristicAppearance         = Short(0x2A01)
	CharacteristicBatteryLevel       = Short(0x2A19)
	CharacteristicCurrentTime        = Short(0x2A2B)
	CharacteristicSystemID           = Short(0x2A23)
	CharacteristicModelNumber        = Short(0x2A24)
	CharacteristicSerialNumber       = Short(0x2A25)
	CharacteristicFirmwareRevision   = Short(0x2A26)
	CharacteristicHardwareRevision   = Short(0x2A27)
	CharacteristicSoftwareRevision   = Short(0x2A28)
	CharacteristicManufacturerName   = Short(0x2A29)
	CharacteristicHeartRate          = Short(0x2A37)
	CharacteristicBodySensorLocation = Short(0x2A38)
	CharacteristicHeartRateControl   = Short(0x2A39)
	CharacteristicPressure           = Short(0x2A6D)
	CharacteristicTemperature        = Short(0x2A6E)
	CharacteristicHumidity           = Short(0x2A6F)

	CharacteristicNordicButton = uuid.MustParse("00001524-1212-efde-1523-785feabcd123")
	CharacteristicNordicLED    = uuid.MustParse("00001525-1212-efde-1523-785feabcd123")
	CharacteristicNordicUARTRX = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	CharacteristicNordicUARTTX = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

func builtinEntries() []Entry {
	service := func(id uuid.UUID, name string) Entry {
		return Entry{ID: id, Name: name, Kind: KindService}
	}
	characteristic := func(id uuid.UUID, name string, rule Rule) Entry {
		return Entry{ID: id, Name: name, Kind: KindCharacteristic, Rule: rule}
	}

	return []Entry{
		service(ServiceGenericAccess, "Generic Access"),
		service(ServiceGenericAttribute, "Generic Attribute"),
		service(ServiceCurrentTime, "Current Time"),
		service(ServiceDeviceInformation, "Device Information"),
		service(ServiceHeartRate, "Heart Rate"),
		service(ServiceBattery, "Battery Service"),
		service(ServiceEnvironmentSensing, "Environmental Sensing"),
		service(ServiceNordicLEDButton, "Nordic LED Button Service"),
		service(ServiceNordicUART, "Nordic UART Service"),

		characteristic(CharacteristicDeviceName, "Device Name", RuleUTF8),
		characteristic(CharacteristicAppearance, "Appearance", RuleUint16LE),
		characteristic(CharacteristicBatteryLevel, "Battery Level", RuleUint8),
		characteristic(CharacteristicCurrentTime, "Current Time", RuleRaw),
		characteristic(CharacteristicSystemID, "System ID", RuleRaw),
		characteristic(CharacteristicModelNumber, "Model Number String", RuleUTF8),
		characteristic(CharacteristicSerialNumber, "Serial Number String", RuleUTF8),
		characteristic(CharacteristicFirmwareRevision, "Firmware Revision String", RuleUTF8),
		characteristic(CharacteristicHardwareRevision, "Hardware Revision String", RuleUTF8),
		characteristic(CharacteristicSoftwareRevision, "Software Revision String", RuleUTF8),
		characteristic(CharacteristicManufacturerName, "Manufacturer Name String", RuleUTF8),
		characteristic(CharacteristicHeartRate, "Heart Rate Measurement", RuleHeartRate),
		characteristic(CharacteristicBodySensorLocation, "Body Sensor Location", RuleUint8),
		characteristic(CharacteristicHeartRateControl, "Heart Rate Control Point", RuleUint8),
		characteristic(CharacteristicPressure, "Pressure", RulePressure),
		characteristic(CharacteristicTemperature, "Temperature", RuleTemperature),
		characteristic(CharacteristicHumidity, "Humidity", RuleHumidity),
		characteristic(CharacteristicNordicButton, "Button State", RuleBoolean),
		characteristic(CharacteristicNordicLED, "LED State", RuleBoolean),
		characteristic(CharacteristicNordicUARTRX, "UART RX", RuleUTF8),
		characteristic(CharacteristicNordicUARTTX, "UART TX", RuleUTF8),
	}
}
