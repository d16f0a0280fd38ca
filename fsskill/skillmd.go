package fsskill

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xingyang1991/nightfall/internal/pathutil"
	"github.com/xingyang1991/nightfall/spec"
)

const (
	skillFileName   = "SKILL.md"
	maxSkillMDBytes = 2 << 20 // 2 MiB
	maxIDLen        = 64
	maxDescLen      = 1024
)

// Document is a parsed SKILL.md: the frontmatter is the manifest and the
// markdown body is the standing instruction handed to the generator.
type Document struct {
	Manifest spec.SkillManifest
	Body     string
	Path     string
	Digest   string
}

// ParseDir reads dir/SKILL.md. The manifest id must equal the directory name.
func ParseDir(ctx context.Context, dir string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	root, err := pathutil.CanonicalDir(dir)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %w", spec.ErrInvalidArgument, err)
	}

	loc := filepath.Join(root, skillFileName)
	if lst, lerr := os.Lstat(loc); lerr == nil && lst.Mode()&os.ModeSymlink != 0 {
		return Document{}, fmt.Errorf("%w: %s must not be a symlink", spec.ErrInvalidArgument, skillFileName)
	}

	b, digest, err := readAllLimitedAndDigest(loc)
	if err != nil {
		return Document{}, err
	}

	doc, err := Parse(b, filepath.Base(root))
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", loc, err)
	}
	doc.Path = loc
	doc.Digest = "sha256:" + digest
	return doc, nil
}

// Parse decodes SKILL.md content. dirBase, when non-empty, must equal the
// manifest id.
func Parse(data []byte, dirBase string) (Document, error) {
	fm, body, hasFM, err := splitFrontmatter(string(data))
	if err != nil {
		return Document{}, fmt.Errorf("%w: %w", spec.ErrInvalidArgument, err)
	}
	if !hasFM {
		return Document{}, fmt.Errorf("%w: %s must contain YAML frontmatter", spec.ErrInvalidArgument, skillFileName)
	}

	var m spec.SkillManifest
	dec := yaml.NewDecoder(bytes.NewReader([]byte(fm)))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("%w: invalid frontmatter YAML: %w", spec.ErrInvalidArgument, err)
	}

	m.ID = strings.TrimSpace(m.ID)
	m.Description = strings.TrimSpace(m.Description)
	if err := validateID(m.ID, dirBase); err != nil {
		return Document{}, fmt.Errorf("%w: %w", spec.ErrInvalidArgument, err)
	}
	if err := validateDescription(m.Description); err != nil {
		return Document{}, fmt.Errorf("%w: %w", spec.ErrInvalidArgument, err)
	}
	if strings.TrimSpace(m.Title) == "" {
		m.Title = m.ID
	}
	if strings.TrimSpace(m.Version) == "" {
		m.Version = "0.0.0"
	}
	if err := m.Validate(); err != nil {
		return Document{}, err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return Document{}, fmt.Errorf("%w: %s body is empty", spec.ErrInvalidArgument, skillFileName)
	}
	return Document{Manifest: m, Body: body}, nil
}

func readAllLimitedAndDigest(path string) (data []byte, dataSHA string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err = io.ReadAll(io.LimitReader(f, int64(maxSkillMDBytes)+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxSkillMDBytes {
		return nil, "", fmt.Errorf("%w: %s too large (max %d bytes)", spec.ErrInvalidArgument, skillFileName, maxSkillMDBytes)
	}

	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

func splitFrontmatter(s string) (frontmatter, body string, has bool, err error) {
	br := bufio.NewReader(strings.NewReader(s))

	first, ferr := br.ReadString('\n')
	if ferr != nil && !errors.Is(ferr, io.EOF) {
		return "", "", false, ferr
	}
	if strings.TrimSpace(strings.TrimRight(first, "\r\n")) != "---" {
		return "", s, false, nil
	}

	var fmLines []string
	foundEnd := false
	for {
		line, lerr := br.ReadString('\n')
		if lerr != nil && !errors.Is(lerr, io.EOF) {
			return "", "", false, lerr
		}
		lineTrim := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(lineTrim) == "---" {
			foundEnd = true
			break
		}
		fmLines = append(fmLines, lineTrim)
		if errors.Is(lerr, io.EOF) {
			break
		}
	}
	if !foundEnd {
		return "", "", false, errors.New("unterminated frontmatter (missing closing ---)")
	}

	rest, err := io.ReadAll(br)
	if err != nil {
		return "", "", false, err
	}
	return strings.Join(fmLines, "\n"), string(rest), true, nil
}

func validateID(id, dirBase string) error {
	if id == "" {
		return errors.New("frontmatter.id is required")
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("frontmatter.id too long (max %d)", maxIDLen)
	}
	if dirBase != "" && id != dirBase {
		return fmt.Errorf("frontmatter.id %q must match directory name %q", id, dirBase)
	}
	if strings.HasPrefix(id, "_") || strings.HasSuffix(id, "_") || strings.HasPrefix(id, "-") ||
		strings.HasSuffix(id, "-") {
		return errors.New("frontmatter.id must not start or end with '_' or '-'")
	}
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return fmt.Errorf("frontmatter.id contains invalid character %q", string(r))
	}
	return nil
}

func validateDescription(desc string) error {
	if desc == "" {
		return errors.New("frontmatter.description is required")
	}
	if len(desc) > maxDescLen {
		return fmt.Errorf("frontmatter.description too long (max %d)", maxDescLen)
	}
	return nil
}
