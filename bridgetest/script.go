package bridgetest

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Script is a YAML-scriptable sequence of canned transport responses.
//
//	name: sftp-listing
//	steps:
//	  - op: connectSFTP
//	  - op: sftpLs
//	    error: "permission denied"
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one canned response: the op it answers, an optional string
// result, and an optional error message.
type Step struct {
	Op     string `yaml:"op"`
	Result string `yaml:"result"`
	Error  string `yaml:"error"`
}

var knownOps = map[string]bool{
	OpConnect:            true,
	OpExecute:            true,
	OpStartShell:         true,
	OpWriteToShell:       true,
	OpCloseShell:         true,
	OpConnectSFTP:        true,
	OpSFTPLs:             true,
	OpSFTPRename:         true,
	OpSFTPMkdir:          true,
	OpSFTPRm:             true,
	OpSFTPRmdir:          true,
	OpSFTPChmod:          true,
	OpSFTPUpload:         true,
	OpSFTPDownload:       true,
	OpSFTPCancelUpload:   true,
	OpSFTPCancelDownload: true,
	OpDisconnectSFTP:     true,
	OpDisconnect:         true,
}

// ParseScript parses and validates a YAML script.
func ParseScript(in string) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal([]byte(in), &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, errors.New("script has no steps")
	}
	for i, step := range s.Steps {
		if step.Op == "" {
			return nil, fmt.Errorf("step %d: missing op", i+1)
		}
		if !knownOps[step.Op] {
			return nil, fmt.Errorf("step %d: unknown op %q", i+1, step.Op)
		}
	}
	return &s, nil
}

// Play stubs the transport with the script's responses, in order.
func (t *Transport) Play(s *Script) {
	for _, step := range s.Steps {
		var err error
		if step.Error != "" {
			err = errors.New(step.Error)
		}
		t.StubResult(step.Op, step.Result, err)
	}
}

// PlayYAML parses the YAML script and stubs the transport with it.
func (t *Transport) PlayYAML(in string) error {
	s, err := ParseScript(in)
	if err != nil {
		return err
	}
	t.Play(s)
	return nil
}
