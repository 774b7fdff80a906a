package packet

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RejectReason classifies why Decode refused a piece of clipboard text.
// Rejection is the ordinary outcome for non-protocol clipboard content,
// never an error condition the caller needs to treat specially.
type RejectReason string

const (
	ReasonNotJSONObject   RejectReason = "NotJSONObject"
	ReasonInvalidJSON     RejectReason = "InvalidJSON"
	ReasonMissingType     RejectReason = "MissingType"
	ReasonUnknownType     RejectReason = "UnknownPacketType"
	ReasonInvalidField    RejectReason = "InvalidField"
)

// Rejection is returned by Decode when text is not a valid packet.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason RejectReason, detail string) (*Result, error) {
	return nil, &Rejection{Reason: reason, Detail: detail}
}

// Result is a successfully decoded packet plus any non-fatal field
// corrections the decoder made (e.g. a defaulted or malformed timestamp).
// Callers that have a logger are expected to surface Warnings; the codec
// itself never logs.
type Result struct {
	Packet   Packet
	Warnings []string
}

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses one clipboard text sample into a Packet. Any input that
// is not recognizable protocol traffic is rejected, never an error in the
// Go sense — the clipboard may hold arbitrary user text at any time and
// parsing must stay cheap and conservative.
func Decode(text string) (*Result, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return reject(ReasonNotJSONObject, "")
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return reject(ReasonInvalidJSON, err.Error())
	}
	if env.Type == "" {
		return reject(ReasonMissingType, "")
	}

	switch env.Type {
	case TypeStart:
		return decodeStart(trimmed)
	case TypeChunk:
		return decodeChunk(trimmed)
	case TypeEnd:
		return decodeEnd(trimmed)
	default:
		return reject(ReasonUnknownType, string(env.Type))
	}
}

func decodeStart(text string) (*Result, error) {
	var raw struct {
		FileID         string          `json:"file_id"`
		FileName       string          `json:"file_name"`
		TransferType   TransferType    `json:"transfer_type"`
		TotalSize      int64           `json:"total_size"`
		ChunkSize      int             `json:"chunk_size"`
		ChunkTotal     int             `json:"chunk_total"`
		FileMD5        string          `json:"file_md5"`
		FolderManifest []ManifestEntry `json:"folder_manifest,omitempty"`
		StartTime      *string         `json:"start_time"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return reject(ReasonInvalidJSON, err.Error())
	}

	if raw.FileID == "" {
		return reject(ReasonInvalidField, "file_id must not be empty")
	}
	if raw.FileName == "" {
		return reject(ReasonInvalidField, "file_name must not be empty")
	}
	if raw.TransferType != TransferFile && raw.TransferType != TransferFolder {
		return reject(ReasonInvalidField, "transfer_type must be FILE or FOLDER")
	}
	if raw.TotalSize <= 0 {
		return reject(ReasonInvalidField, "total_size must be positive")
	}
	if raw.ChunkSize <= 0 {
		return reject(ReasonInvalidField, "chunk_size must be positive")
	}
	expectedChunks := expectedChunkTotal(raw.TotalSize, raw.ChunkSize)
	if raw.ChunkTotal <= 0 || raw.ChunkTotal != expectedChunks {
		return reject(ReasonInvalidField, "chunk_total does not match total_size/chunk_size")
	}
	if !validMD5(raw.FileMD5) {
		return reject(ReasonInvalidField, "file_md5 must be 32 lowercase hex characters")
	}

	start, warnings := resolveTime(raw.StartTime)
	p := &StartPacket{
		FileID:         raw.FileID,
		FileName:       raw.FileName,
		TransferType:   raw.TransferType,
		TotalSize:      raw.TotalSize,
		ChunkSize:      raw.ChunkSize,
		ChunkTotal:     raw.ChunkTotal,
		FileMD5:        strings.ToLower(raw.FileMD5),
		FolderManifest: raw.FolderManifest,
		StartTime:      start,
	}
	return &Result{Packet: p, Warnings: warnings}, nil
}

func decodeChunk(text string) (*Result, error) {
	var raw struct {
		FileID     string  `json:"file_id"`
		ChunkIndex int     `json:"chunk_index"`
		ChunkTotal int     `json:"chunk_total"`
		ChunkMD5   string  `json:"chunk_md5"`
		Data       string  `json:"data"`
		SendTime   *string `json:"send_time"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return reject(ReasonInvalidJSON, err.Error())
	}

	if raw.FileID == "" {
		return reject(ReasonInvalidField, "file_id must not be empty")
	}
	if raw.ChunkTotal <= 0 {
		return reject(ReasonInvalidField, "chunk_total must be positive")
	}
	if raw.ChunkIndex < 0 || raw.ChunkIndex >= raw.ChunkTotal {
		return reject(ReasonInvalidField, "chunk_index out of range")
	}
	if !validMD5(raw.ChunkMD5) {
		return reject(ReasonInvalidField, "chunk_md5 must be 32 lowercase hex characters")
	}
	if raw.Data == "" || !validBase64(raw.Data) {
		return reject(ReasonInvalidField, "data must be valid base64")
	}

	sendTime, warnings := resolveTime(raw.SendTime)
	p := &ChunkPacket{
		FileID:     raw.FileID,
		ChunkIndex: raw.ChunkIndex,
		ChunkTotal: raw.ChunkTotal,
		ChunkMD5:   strings.ToLower(raw.ChunkMD5),
		Data:       raw.Data,
		SendTime:   sendTime,
	}
	return &Result{Packet: p, Warnings: warnings}, nil
}

func decodeEnd(text string) (*Result, error) {
	var raw struct {
		FileID     string  `json:"file_id"`
		FileName   string  `json:"file_name"`
		ChunkTotal int     `json:"chunk_total"`
		EndTime    *string `json:"end_time"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return reject(ReasonInvalidJSON, err.Error())
	}

	if raw.FileID == "" {
		return reject(ReasonInvalidField, "file_id must not be empty")
	}
	if raw.ChunkTotal <= 0 {
		return reject(ReasonInvalidField, "chunk_total must be positive")
	}

	endTime, warnings := resolveTime(raw.EndTime)
	p := &EndPacket{
		FileID:     raw.FileID,
		FileName:   raw.FileName,
		ChunkTotal: raw.ChunkTotal,
		EndTime:    endTime,
	}
	return &Result{Packet: p, Warnings: warnings}, nil
}

// resolveTime defaults a missing timestamp to now and replaces a malformed
// one with now too, surfacing a warning string in either case rather than
// failing decode — the receiver is expected to tolerate sloppy senders.
func resolveTime(raw *string) (time.Time, []string) {
	if raw == nil {
		return time.Now().UTC(), []string{"timestamp missing, defaulted to now"}
	}
	t, err := time.Parse(wireTimeLayout, *raw)
	if err != nil {
		return time.Now().UTC(), []string{fmt.Sprintf("timestamp %q malformed, defaulted to now", *raw)}
	}
	return t.UTC(), nil
}

func expectedChunkTotal(totalSize int64, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	n := totalSize / int64(chunkSize)
	if totalSize%int64(chunkSize) != 0 {
		n++
	}
	return int(n)
}

// Encode serializes a packet to its wire JSON form. Unlike Decode, Encode
// is called only on packets the sender itself constructed, so a validation
// failure here is a programming error and returned as an ordinary error.
func Encode(p Packet) (string, error) {
	switch v := p.(type) {
	case *StartPacket:
		return encodeStart(v)
	case *ChunkPacket:
		return encodeChunk(v)
	case *EndPacket:
		return encodeEnd(v)
	default:
		return "", fmt.Errorf("packet: unknown packet implementation %T", p)
	}
}

func encodeStart(p *StartPacket) (string, error) {
	if p.FileID == "" || p.FileName == "" || p.TotalSize <= 0 || p.ChunkSize <= 0 || p.ChunkTotal <= 0 {
		return "", fmt.Errorf("packet: invalid START packet")
	}
	out := struct {
		Type           Type            `json:"type"`
		FileID         string          `json:"file_id"`
		FileName       string          `json:"file_name"`
		TransferType   TransferType    `json:"transfer_type"`
		TotalSize      int64           `json:"total_size"`
		ChunkSize      int             `json:"chunk_size"`
		ChunkTotal     int             `json:"chunk_total"`
		FileMD5        string          `json:"file_md5"`
		FolderManifest []ManifestEntry `json:"folder_manifest,omitempty"`
		StartTime      string          `json:"start_time"`
	}{
		Type:           TypeStart,
		FileID:         p.FileID,
		FileName:       p.FileName,
		TransferType:   p.TransferType,
		TotalSize:      p.TotalSize,
		ChunkSize:      p.ChunkSize,
		ChunkTotal:     p.ChunkTotal,
		FileMD5:        p.FileMD5,
		FolderManifest: p.FolderManifest,
		StartTime:      p.StartTime.UTC().Format(wireTimeLayout),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeChunk(p *ChunkPacket) (string, error) {
	if p.FileID == "" || p.ChunkTotal <= 0 || p.ChunkIndex < 0 || p.ChunkIndex >= p.ChunkTotal {
		return "", fmt.Errorf("packet: invalid CHUNK packet")
	}
	out := struct {
		Type       Type   `json:"type"`
		FileID     string `json:"file_id"`
		ChunkIndex int    `json:"chunk_index"`
		ChunkTotal int    `json:"chunk_total"`
		ChunkMD5   string `json:"chunk_md5"`
		Data       string `json:"data"`
		SendTime   string `json:"send_time"`
	}{
		Type:       TypeChunk,
		FileID:     p.FileID,
		ChunkIndex: p.ChunkIndex,
		ChunkTotal: p.ChunkTotal,
		ChunkMD5:   p.ChunkMD5,
		Data:       p.Data,
		SendTime:   p.SendTime.UTC().Format(wireTimeLayout),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeEnd(p *EndPacket) (string, error) {
	if p.FileID == "" || p.ChunkTotal <= 0 {
		return "", fmt.Errorf("packet: invalid END packet")
	}
	out := struct {
		Type       Type   `json:"type"`
		FileID     string `json:"file_id"`
		FileName   string `json:"file_name"`
		ChunkTotal int    `json:"chunk_total"`
		EndTime    string `json:"end_time"`
	}{
		Type:       TypeEnd,
		FileID:     p.FileID,
		FileName:   p.FileName,
		ChunkTotal: p.ChunkTotal,
		EndTime:    p.EndTime.UTC().Format(wireTimeLayout),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
