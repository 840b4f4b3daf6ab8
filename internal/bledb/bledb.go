// Package bledb names well-known Bluetooth SIG attributes for display.
// Lookups accept any UUID spelling peripheral.NormalizeUUID understands and return ""
// for unknown UUIDs.
package bledb

import "github.com/srg/blimp/internal/peripheral"

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1805": "Current Time Service",
	"1809": "Health Thermometer",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"1812": "Human Interface Device",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1819": "Location and Navigation",
	"181a": "Environmental Sensing",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a1c": "Temperature Measurement",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a2b": "Current Time",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2905": "Characteristic Aggregate Format",
	"2906": "Valid Range",
}

func lookup(table map[string]string, uuid string) string {
	key, err := peripheral.NormalizeUUID(uuid)
	if err != nil {
		return ""
	}
	return table[key]
}

// LookupService returns the SIG name of a service
func LookupService(uuid string) string { return lookup(services, uuid) }

// LookupCharacteristic returns the SIG name of a characteristic
func LookupCharacteristic(uuid string) string { return lookup(characteristics, uuid) }

// LookupDescriptor returns the SIG name of a descriptor
func LookupDescriptor(uuid string) string { return lookup(descriptors, uuid) }
