package data

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"time"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
)

// fileSource is a development ContentSource backed by a JSON-lines
// inbox file. Appending a line to the file is "a new message arriving";
// the fingerprint is a hash of the last line, so unchanged files never
// trigger the detector. It stands in for the out-of-scope screen
// capture + OCR stack.
type fileSource struct {
	path     string
	platform string
}

// NewFileSource creates a file-backed content source. platform is
// stamped onto extracted messages.
func NewFileSource(path, platform string) repo.ContentSource {
	return &fileSource{path: path, platform: platform}
}

func (s *fileSource) Connect(_ context.Context) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return fmt.Errorf("open inbox %s: %w", s.path, err)
	}
	return f.Close()
}

func (s *fileSource) Sample(_ context.Context) (domain.Fingerprint, error) {
	line, err := s.lastLine()
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	h.Write([]byte(line))
	return domain.Fingerprint(h.Sum64()), nil
}

type inboxLine struct {
	Platform string `json:"platform"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
	Type     string `json:"type"`
}

func (s *fileSource) ExtractLatest(_ context.Context) (*domain.Message, error) {
	line, err := s.lastLine()
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, fmt.Errorf("inbox %s is empty", s.path)
	}

	var parsed inboxLine
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		return nil, fmt.Errorf("unreadable inbox line: %w", err)
	}

	platform := parsed.Platform
	if platform == "" {
		platform = s.platform
	}
	return &domain.Message{
		Platform:   platform,
		Sender:     parsed.Sender,
		Receiver:   parsed.Receiver,
		Content:    parsed.Content,
		Type:       domain.ParseMessageType(parsed.Type),
		ObservedAt: time.Now(),
	}, nil
}

func (s *fileSource) Close() error {
	return nil
}

func (s *fileSource) lastLine() (string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("open inbox %s: %w", s.path, err)
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read inbox %s: %w", s.path, err)
	}
	return last, nil
}
