// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcc

import "github.com/fido-device-onboard/go-fcc/naming"

// Device general info
const (
	UseBootstrapName = "mbed.UseBootstrap"
	EndpointName     = "mbed.EndpointName"
	AccountIDName    = "mbed.AccountID"
	FirstToClaimName = "mbed.FirstToClaim"
)

// Device meta-data
const (
	ManufacturerName    = "mbed.Manufacturer"
	ModelNumberName     = "mbed.ModelNumber"
	DeviceTypeName      = "mbed.DeviceType"
	HardwareVersionName = "mbed.HardwareVersion"
	MemoryTotalKBName   = "mbed.MemoryTotalKB"
	SerialNumberName    = "mbed.SerialNumber"
)

// Time synchronization
const (
	CurrentTimeName = "mbed.CurrentTime"
	TimezoneName    = "mbed.Timezone"
	UTCOffsetName   = "mbed.UTCOffset"
)

// Bootstrap server security objects
const (
	BootstrapServerCACertName     = "mbed.BootstrapServerCACert"
	BootstrapServerCRLName        = "mbed.BootstrapServerCRL"
	BootstrapServerURIName        = "mbed.BootstrapServerURI"
	BootstrapDeviceCertName       = "mbed.BootstrapDeviceCert"
	BootstrapDevicePrivateKeyName = "mbed.BootstrapDevicePrivateKey"
)

// LwM2M server security objects
const (
	LwM2MServerCACertName     = "mbed.LwM2MServerCACert"
	LwM2MServerCRLName        = "mbed.LwM2MServerCRL"
	LwM2MServerURIName        = "mbed.LwM2MServerURI"
	LwM2MDeviceCertName       = "mbed.LwM2MDeviceCert"
	LwM2MDevicePrivateKeyName = "mbed.LwM2MDevicePrivateKey"
)

// Firmware update trust
const (
	UpdateAuthCertName = "mbed.UpdateAuthCert"
	ClassIDName        = "mbed.ClassId"
	VendorIDName       = "mbed.VendorId"
)

// EntropyName is the name verification records entropy failures against.
const EntropyName = "Entropy"

// Internal records, not reachable through item operations
var (
	factoryDoneName      = naming.Reserved("factory_done")
	trustedTimeSrvIDName = naming.Reserved("trusted_time_srv_id")
)

// securityObjects names the credentials needed to connect to one server.
type securityObjects struct {
	CACert     string
	CRL        string
	URI        string
	DeviceCert string
	PrivateKey string
}

var (
	bootstrapObjects = securityObjects{
		CACert:     BootstrapServerCACertName,
		CRL:        BootstrapServerCRLName,
		URI:        BootstrapServerURIName,
		DeviceCert: BootstrapDeviceCertName,
		PrivateKey: BootstrapDevicePrivateKeyName,
	}
	lwm2mObjects = securityObjects{
		CACert:     LwM2MServerCACertName,
		CRL:        LwM2MServerCRLName,
		URI:        LwM2MServerURIName,
		DeviceCert: LwM2MDeviceCertName,
		PrivateKey: LwM2MDevicePrivateKeyName,
	}
)
