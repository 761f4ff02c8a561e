package jobs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

// CurrentLog names the most recent saved log.
const CurrentLog = "current"

var rolledLogPattern = regexp.MustCompile(`^log\.(\d+)\.txt$`)

// LogStore keeps saved pod logs under <dataRoot>/logs/<job>/. Saving while a
// log.txt exists first renames it to log.<max+1>.txt.
type LogStore struct {
	dataRoot string
	mu       sync.Mutex
}

func NewLogStore(dataRoot string) *LogStore {
	return &LogStore{dataRoot: dataRoot}
}

func (s *LogStore) dir(job string) (string, error) {
	if !namePattern.MatchString(job) {
		return "", ErrLogNotFound
	}
	return PathsFor(s.dataRoot, job).LogDir, nil
}

// Save writes r as the job's current log, rolling the previous one.
func (s *LogStore) Save(job string, r io.Reader) error {
	dir, err := s.dir(job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	current := filepath.Join(dir, "log.txt")
	if _, err := os.Stat(current); err == nil {
		versions, err := rolledVersions(dir)
		if err != nil {
			return err
		}
		next := 1
		if len(versions) > 0 {
			next = versions[len(versions)-1] + 1
		}
		if err := os.Rename(current, filepath.Join(dir, fmt.Sprintf("log.%d.txt", next))); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, ".log-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), current)
}

// Open returns a saved log. An empty version or "current" means log.txt.
func (s *LogStore) Open(job, version string) (io.ReadCloser, error) {
	dir, err := s.dir(job)
	if err != nil {
		return nil, err
	}

	file := "log.txt"
	if version != "" && version != CurrentLog {
		n, err := strconv.Atoi(version)
		if err != nil || n < 1 {
			return nil, ErrLogNotFound
		}
		file = fmt.Sprintf("log.%d.txt", n)
	}

	f, err := os.Open(filepath.Join(dir, file))
	if os.IsNotExist(err) {
		return nil, ErrLogNotFound
	}
	return f, err
}

// Versions lists the rolled versions oldest first, followed by "current"
// when a current log exists.
func (s *LogStore) Versions(job string) ([]string, error) {
	dir, err := s.dir(job)
	if err != nil {
		return nil, err
	}
	nums, err := rolledVersions(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(nums)+1)
	for _, n := range nums {
		out = append(out, strconv.Itoa(n))
	}
	if _, err := os.Stat(filepath.Join(dir, "log.txt")); err == nil {
		out = append(out, CurrentLog)
	}
	return out, nil
}

func rolledVersions(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var nums []int
	for _, e := range entries {
		m := rolledLogPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// Tail reads r to the end and keeps its last limit bytes. It reports
// whether anything was dropped.
func Tail(r io.Reader, limit int) (string, bool, error) {
	var buf bytes.Buffer
	truncated := false
	chunk := make([]byte, 32<<10)
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if buf.Len() > limit {
			buf.Next(buf.Len() - limit)
			truncated = true
		}
		if err == io.EOF {
			return buf.String(), truncated, nil
		}
		if err != nil {
			return "", false, err
		}
	}
}
