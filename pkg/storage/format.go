// Package storage persists a graph and its running statistics to disk
// (spec.md §6, "File Format") on an embedded BadgerDB, and keeps a bounded
// in-memory cache of recently touched node/edge records for out-of-band
// inspection without a full reload.
package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	magicValue    = "SYNGRAPH"
	formatVersion uint32 = 1
)

// ErrBadMagic is returned when a snapshot's leading bytes do not identify
// it as a synapsegraph container.
var ErrBadMagic = errors.New("storage: snapshot magic mismatch")

// ErrUnsupportedVersion is returned when a snapshot's version field is
// newer (or older) than this build knows how to decode.
var ErrUnsupportedVersion = errors.New("storage: unsupported snapshot format version")

// ErrChecksumMismatch is returned when a snapshot's trailing CRC32 does
// not match its contents — corruption per spec.md §7's Corruption class,
// which must block the load rather than return a partial graph.
var ErrChecksumMismatch = errors.New("storage: snapshot failed checksum verification")

// NodeRecord is the fixed-size on-disk representation of one node. Its
// variable-length payload lives in the snapshot's trailing blob, located
// by PayloadOffset/PayloadLen — this is the "fixed-size records
// referencing variable-length payload bytes" layout spec.md §6 calls for.
type NodeRecord struct {
	Handle        uint64
	PayloadOffset uint64
	PayloadLen    uint32
	Level         int32
	Port          uint8
	StopWeight    float64
	TouchCount    int64
	LastTouched   int64
}

// EdgeRecord is the fixed-size on-disk representation of one edge.
type EdgeRecord struct {
	Handle           uint64
	Source           uint64
	Target           uint64
	Weight           float64
	UsageCount       uint64
	LastStrengthened int64
}

// StreamMoments is one Welford stream's persisted accumulator state,
// sufficient to resume updates exactly where a prior process stopped.
type StreamMoments struct {
	Count int64
	Mean  float64
	M2    float64
}

// StatsBlock is the persisted running-statistics state (spec.md §3,
// running_stats): the total ingest count plus all four streams' moments,
// in Stream enum order.
type StatsBlock struct {
	Ingests int64
	Streams [4]StreamMoments
}

// Snapshot is the fully decoded contents of one container: every node and
// edge record, the payload bytes they reference, and the statistics
// block — everything needed to reconstruct a running graph exactly.
type Snapshot struct {
	Nodes    []NodeRecord
	Edges    []EdgeRecord
	Payloads []byte
	Stats    StatsBlock
}

// Encode serialises a Snapshot into the on-disk container format: an
// 8-byte magic, a version, node/edge/payload lengths, the node table, the
// edge table, the payload blob, the stats block, and a trailing CRC32
// over everything preceding it.
func Encode(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(magicValue)
	_ = binary.Write(&buf, binary.LittleEndian, formatVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(snap.Nodes)))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(snap.Edges)))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(snap.Payloads)))

	for _, n := range snap.Nodes {
		if err := writeNodeRecord(&buf, n); err != nil {
			return nil, err
		}
	}
	for _, e := range snap.Edges {
		if err := writeEdgeRecord(&buf, e); err != nil {
			return nil, err
		}
	}
	buf.Write(snap.Payloads)

	if err := writeStatsBlock(&buf, snap.Stats); err != nil {
		return nil, err
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	_ = binary.Write(&buf, binary.LittleEndian, sum)
	return buf.Bytes(), nil
}

// Decode parses a container previously produced by Encode, validating its
// magic, version and checksum before returning the decoded Snapshot.
func Decode(data []byte) (Snapshot, error) {
	if len(data) < 4 {
		return Snapshot{}, ErrChecksumMismatch
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	want := binary.LittleEndian.Uint32(trailer)
	if crc32.ChecksumIEEE(body) != want {
		return Snapshot{}, ErrChecksumMismatch
	}

	r := bytes.NewReader(body)
	magic := make([]byte, 8)
	if _, err := r.Read(magic); err != nil || string(magic) != magicValue {
		return Snapshot{}, ErrBadMagic
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Snapshot{}, err
	}
	if version != formatVersion {
		return Snapshot{}, ErrUnsupportedVersion
	}

	var nodeCount, edgeCount, payloadLen uint64
	if err := binary.Read(r, binary.LittleEndian, &nodeCount); err != nil {
		return Snapshot{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &edgeCount); err != nil {
		return Snapshot{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Nodes: make([]NodeRecord, nodeCount),
		Edges: make([]EdgeRecord, edgeCount),
	}
	for i := range snap.Nodes {
		n, err := readNodeRecord(r)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Nodes[i] = n
	}
	for i := range snap.Edges {
		e, err := readEdgeRecord(r)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Edges[i] = e
	}

	snap.Payloads = make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := r.Read(snap.Payloads); err != nil {
			return Snapshot{}, err
		}
	}

	stats, err := readStatsBlock(r)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Stats = stats
	return snap, nil
}

func writeNodeRecord(buf *bytes.Buffer, n NodeRecord) error {
	for _, v := range []any{n.Handle, n.PayloadOffset, n.PayloadLen, n.Level, n.Port, n.StopWeight, n.TouchCount, n.LastTouched} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readNodeRecord(r *bytes.Reader) (NodeRecord, error) {
	var n NodeRecord
	fields := []any{&n.Handle, &n.PayloadOffset, &n.PayloadLen, &n.Level, &n.Port, &n.StopWeight, &n.TouchCount, &n.LastTouched}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return NodeRecord{}, err
		}
	}
	return n, nil
}

func writeEdgeRecord(buf *bytes.Buffer, e EdgeRecord) error {
	for _, v := range []any{e.Handle, e.Source, e.Target, e.Weight, e.UsageCount, e.LastStrengthened} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readEdgeRecord(r *bytes.Reader) (EdgeRecord, error) {
	var e EdgeRecord
	fields := []any{&e.Handle, &e.Source, &e.Target, &e.Weight, &e.UsageCount, &e.LastStrengthened}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return EdgeRecord{}, err
		}
	}
	return e, nil
}

func writeStatsBlock(buf *bytes.Buffer, s StatsBlock) error {
	if err := binary.Write(buf, binary.LittleEndian, s.Ingests); err != nil {
		return err
	}
	for _, m := range s.Streams {
		for _, v := range []any{m.Count, m.Mean, m.M2} {
			if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func readStatsBlock(r *bytes.Reader) (StatsBlock, error) {
	var s StatsBlock
	if err := binary.Read(r, binary.LittleEndian, &s.Ingests); err != nil {
		return StatsBlock{}, err
	}
	for i := range s.Streams {
		fields := []any{&s.Streams[i].Count, &s.Streams[i].Mean, &s.Streams[i].M2}
		for _, f := range fields {
			if err := binary.Read(r, binary.LittleEndian, f); err != nil {
				return StatsBlock{}, err
			}
		}
	}
	return s, nil
}
