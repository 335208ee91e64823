package rpcserver

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jetsetilly/watdbg/watdwarf"
)

type getSourceParams struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Context int    `json:"context"`
}

type sourceResponse struct {
	Path      string                 `json:"path"`
	FirstLine int                    `json:"first_line"`
	Lines     []*watdwarf.SourceLine `json:"lines"`
}

// getSource implements the SPEC_FULL.md §4 supplement: context is a line
// count, and the response is the 2*context+1 lines centered on line,
// clamped to the file's bounds, each pre-split into syntax fragments.
func (s *Server) getSource(raw json.RawMessage) (interface{}, error) {
	var p getSourceParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.Path == "" || p.Line <= 0 {
		return nil, invalidParams{"path and a positive line are required"}
	}

	path, err := s.resolveSourcePath(p.ID, p.Path)
	if err != nil {
		return nil, err
	}

	allLines, err := readLines(path)
	if err != nil {
		return nil, invalidParams{"could not read " + p.Path + ": " + err.Error()}
	}

	first := p.Line - p.Context
	if first < 1 {
		first = 1
	}
	last := p.Line + p.Context
	if last > len(allLines) {
		last = len(allLines)
	}

	out := make([]*watdwarf.SourceLine, 0, last-first+1)
	for n := first; n <= last; n++ {
		l := &watdwarf.SourceLine{LineNumber: n, PlainContent: allLines[n-1]}
		l.ParseFragments()
		out = append(out, l)
	}

	return sourceResponse{Path: path, FirstLine: first, Lines: out}, nil
}

// resolveSourcePath returns path unchanged if it exists as given, otherwise
// tries its base name joined to each of the session's source_dirs in order,
// per create_session's source_dirs parameter.
func (s *Server) resolveSourcePath(sessionID, path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	dirs, err := s.conductor.SourceDirs(sessionID)
	if err != nil {
		return "", err
	}

	base := filepath.Base(path)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, base)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", invalidParams{"source file not found: " + path}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
