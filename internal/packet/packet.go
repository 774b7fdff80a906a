// Package packet implements the clipboard wire protocol: a small set of
// framed JSON messages (START, CHUNK, END) that describe one file transfer.
package packet

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Type is the packet's wire-level discriminator.
type Type string

const (
	TypeStart Type = "START"
	TypeChunk Type = "CHUNK"
	TypeEnd   Type = "END"
)

// TransferType distinguishes a single file from a zipped folder.
type TransferType string

const (
	TransferFile   TransferType = "FILE"
	TransferFolder TransferType = "FOLDER"
)

var md5Pattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Packet is implemented by *StartPacket, *ChunkPacket and *EndPacket.
type Packet interface {
	Kind() Type
	ID() string
}

// ManifestEntry is one entry of a folder transfer's manifest: a
// ZIP-relative path and its source modification time.
type ManifestEntry struct {
	Path    string    `json:"path"`
	ModTime ModTime   `json:"mod_time"`
}

// ModTime tolerates both an ISO-8601 string and an epoch-millis number on
// the wire, since older payloads encode it either way.
type ModTime struct {
	time.Time
}

func (m ModTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Time.UTC().Format(wireTimeLayout) + `"`), nil
}

func (m *ModTime) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s := string(data)
	if s == "null" {
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		t, err := time.Parse(wireTimeLayout, str)
		if err != nil {
			return fmt.Errorf("mod_time: %w", err)
		}
		m.Time = t.UTC()
		return nil
	}
	// epoch millis
	var millis int64
	if err := json.Unmarshal(data, &millis); err != nil {
		return fmt.Errorf("mod_time: not a string or number: %w", err)
	}
	m.Time = time.UnixMilli(millis).UTC()
	return nil
}

// StartPacket announces a new transfer.
type StartPacket struct {
	FileID         string          `json:"file_id"`
	FileName       string          `json:"file_name"`
	TransferType   TransferType    `json:"transfer_type"`
	TotalSize      int64           `json:"total_size"`
	ChunkSize      int             `json:"chunk_size"`
	ChunkTotal     int             `json:"chunk_total"`
	FileMD5        string          `json:"file_md5"`
	FolderManifest []ManifestEntry `json:"folder_manifest,omitempty"`
	StartTime      time.Time       `json:"start_time"`
}

func (p *StartPacket) Kind() Type  { return TypeStart }
func (p *StartPacket) ID() string  { return p.FileID }

// ChunkPacket carries one Base64-wrapped slice of the payload.
type ChunkPacket struct {
	FileID     string    `json:"file_id"`
	ChunkIndex int       `json:"chunk_index"`
	ChunkTotal int       `json:"chunk_total"`
	ChunkMD5   string    `json:"chunk_md5"`
	Data       string    `json:"data"`
	SendTime   time.Time `json:"send_time"`
}

func (p *ChunkPacket) Kind() Type { return TypeChunk }
func (p *ChunkPacket) ID() string { return p.FileID }

// EndPacket closes out a transfer.
type EndPacket struct {
	FileID     string    `json:"file_id"`
	FileName   string    `json:"file_name"`
	ChunkTotal int       `json:"chunk_total"`
	EndTime    time.Time `json:"end_time"`
}

func (p *EndPacket) Kind() Type { return TypeEnd }
func (p *EndPacket) ID() string { return p.FileID }

const wireTimeLayout = "2006-01-02T15:04:05Z"

func validMD5(s string) bool {
	return md5Pattern.MatchString(s)
}

func validBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
