// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains the integrity checks used across the sensor
// packages: the additive parity byte of the DHTxx frames, the Dallas/Maxim
// CRC-8 of 1-wire ROM codes and scratchpads and the Modbus CRC-16 of the
// AM2320 I²C frames.
package common

// Sum8 returns the low 8 bits of the sum of bytes. DHTxx sensors send it as
// the fifth byte of a frame.
func Sum8(bytes []byte) byte {
	var sum byte
	for _, val := range bytes {
		sum += val
	}
	return sum
}

// CRC8Maxim calculates the Dallas/Maxim 1-wire CRC-8 of the byte slice.
//
// The polynomial is x⁸+x⁵+x⁴+1, the initial value is 0 and each byte is
// shifted in least significant bit first, as described in Maxim application
// note 27. Running it over a buffer that ends with its own CRC yields 0.
func CRC8Maxim(bytes []byte) byte {
	var crc byte
	for _, val := range bytes {
		for range 8 {
			mix := (crc ^ val) & 0x01
			crc >>= 1
			if mix != 0 {
				// 0x8c is 0x31 bit-reversed.
				crc ^= 0x8c
			}
			val >>= 1
		}
	}
	return crc
}

// CheckCRC8Maxim verifies that the last byte of buf is the CRC8Maxim of the
// bytes preceding it.
func CheckCRC8Maxim(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	return CRC8Maxim(buf[:len(buf)-1]) == buf[len(buf)-1]
}

// CRC16Modbus calculates the Modbus CRC-16 of the byte slice: polynomial
// 0xa001 (reflected 0x8005), initial value 0xffff.
func CRC16Modbus(bytes []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range bytes {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xa001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// CheckCRC16Modbus verifies that the last two bytes of buf are the
// CRC16Modbus of the bytes preceding them, low byte first.
func CheckCRC16Modbus(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	n := len(buf) - 2
	return CRC16Modbus(buf[:n]) == uint16(buf[n])|uint16(buf[n+1])<<8
}
