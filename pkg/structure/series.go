// Package structure defines the CRAM data model: compression header, data
// series keys, substitution matrix, records with their read features, and
// the block, slice and container units.
package structure

import (
	"fmt"
)

// DataSeries is a two character key naming one record field.
type DataSeries string

// Fixed data series
const (
	BF DataSeries = "BF" // BAM flags
	CF DataSeries = "CF" // CRAM compression flags
	RI DataSeries = "RI" // reference id (multi-reference slices)
	RL DataSeries = "RL" // read length
	AP DataSeries = "AP" // alignment start, delta or absolute
	RG DataSeries = "RG" // read group index
	RN DataSeries = "RN" // read name
	MF DataSeries = "MF" // mate flags
	NS DataSeries = "NS" // mate reference id
	NP DataSeries = "NP" // mate alignment start
	TS DataSeries = "TS" // template size
	NF DataSeries = "NF" // records to next fragment
	TL DataSeries = "TL" // tag dictionary line
	FN DataSeries = "FN" // number of read features
	FC DataSeries = "FC" // read feature code
	FP DataSeries = "FP" // read feature position delta
	DL DataSeries = "DL" // deletion length
	BS DataSeries = "BS" // substitution code
	IN DataSeries = "IN" // inserted bases
	RS DataSeries = "RS" // reference skip length
	PD DataSeries = "PD" // padding length
	HC DataSeries = "HC" // hard clip length
	SC DataSeries = "SC" // soft clipped bases
	MQ DataSeries = "MQ" // mapping quality
	BA DataSeries = "BA" // base
	QS DataSeries = "QS" // quality score
)

// ValueType is the type of value a data series carries.
type ValueType int

// Value types
const (
	IntValue ValueType = iota
	ByteValue
	ByteArrayValue
)

func (t ValueType) String() string {
	switch t {
	case IntValue:
		return "int"
	case ByteValue:
		return "byte"
	case ByteArrayValue:
		return "byte[]"
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// SeriesTypes lists every fixed data series with its value type, in the
// order the compression header writes them.
var SeriesTypes = []struct {
	Key  DataSeries
	Type ValueType
}{
	{BF, IntValue}, {CF, IntValue}, {RI, IntValue}, {RL, IntValue},
	{AP, IntValue}, {RG, IntValue}, {RN, ByteArrayValue}, {MF, IntValue},
	{NS, IntValue}, {NP, IntValue}, {TS, IntValue}, {NF, IntValue},
	{TL, IntValue}, {FN, IntValue}, {FC, ByteValue}, {FP, IntValue},
	{DL, IntValue}, {BS, ByteValue}, {IN, ByteArrayValue}, {RS, IntValue},
	{PD, IntValue}, {HC, IntValue}, {SC, ByteArrayValue}, {MQ, IntValue},
	{BA, ByteValue}, {QS, ByteValue},
}

// TypeOf returns the value type of a fixed data series.
func TypeOf(key DataSeries) (ValueType, bool) {
	for _, s := range SeriesTypes {
		if s.Key == key {
			return s.Type, true
		}
	}
	return 0, false
}

// TagKey packs a two character tag name and its BAM value type into 24 bits.
type TagKey int32

// NewTagKey returns the key for tag with value type typ.
func NewTagKey(tag [2]byte, typ byte) TagKey {
	return TagKey(int32(tag[0])<<16 | int32(tag[1])<<8 | int32(typ))
}

// Tag returns the two character tag name.
func (k TagKey) Tag() [2]byte {
	return [2]byte{byte(k >> 16), byte(k >> 8)}
}

// Type returns the BAM value type character.
func (k TagKey) Type() byte { return byte(k) }

func (k TagKey) String() string {
	t := k.Tag()
	return fmt.Sprintf("%c%c:%c", t[0], t[1], k.Type())
}

// ContentID returns the external block id assigned to a fixed data series:
// its position in SeriesTypes plus one. Tag values use their TagKey.
func ContentID(key DataSeries) int32 {
	for i, s := range SeriesTypes {
		if s.Key == key {
			return int32(i + 1)
		}
	}
	return 0
}

// ContentName names the values stored under an external content id.
func ContentName(id int32) string {
	if id >= 1 && int(id) <= len(SeriesTypes) {
		return string(SeriesTypes[id-1].Key)
	}
	if id >= 1<<16 {
		return TagKey(id).String()
	}
	return fmt.Sprintf("#%d", id)
}
