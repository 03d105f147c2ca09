// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package statement converts a Polygon problem package's LaTeX
// statements into the Markdown descriptions and translations the host
// judge stores: one pass per <statement> block, each driven through
// pandoc with a fixed Lua filter and macro prologue, with images and an
// optional tutorial ingested into the host's content-addressed media
// store along the way.
package statement

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/judgehost"
	"github.com/kraklabs/polyimport/internal/metrics"
	"github.com/kraklabs/polyimport/internal/retry"
	"github.com/kraklabs/polyimport/pkg/pkgarchive"
)

// Statement is one language's converted statement.
type Statement struct {
	Language    string
	Name        string
	Description string
	Tutorial    string // empty if the package carried no tutorial.
}

// pandocFilterLua is applied to every pandoc invocation: quote folding,
// HTML-escaping of code spans, math delimiter rewriting, image spacing,
// code-block language tagging, dash/NBSP entity conversion, and the
// center/epigraph div handling Polygon statements rely on.
const pandocFilterLua = `
local function normalize_quote(text)
    text = text:gsub('\u{2018}', "'")
    text = text:gsub('\u{2019}', "'")
    text = text:gsub('\u{201C}', '"')
    text = text:gsub('\u{201D}', '"')
    text = text:gsub('<<', '\u{00AB}')
    text = text:gsub('>>', '\u{00BB}')
    return text
end

local function escape_html_content(text)
    text = text:gsub('&', '&amp;')
    text = text:gsub('<', "&lt;")
    text = text:gsub('>', "&gt;")
    text = text:gsub('*', '\\*')
    text = text:gsub('_', '\\_')
    text = text:gsub('%$', '<span>%$</span>')
    text = text:gsub('~', '<span>~</span>')
    return text
end

function Math(m)
    local delimiter = m.mathtype == 'InlineMath' and '~' or '$$'
    return pandoc.RawInline('html', delimiter .. m.text .. delimiter)
end

function Image(el)
    return {pandoc.RawInline('markdown', '\n\n'), el, pandoc.RawInline('markdown', '\n\n')}
end

function Code(el)
    local text = normalize_quote(el.text)
    text = escape_html_content(text)
    return pandoc.RawInline('html', '<span style="font-family: courier new,monospace;">' .. text .. '</span>')
end

function CodeBlock(el)
    el.text = normalize_quote(el.text)
    if el.classes[1] == nil then
        el.classes[1] = ''
    end
    return el
end

function Quoted(el)
    local quote = el.quotetype == 'SingleQuote' and "'" or '"'
    local inlines = el.content
    table.insert(inlines, 1, quote)
    table.insert(inlines, quote)
    return inlines
end

function Str(el)
    el.text = normalize_quote(el.text)

    local res = {}
    local part = ''
    for c in el.text:gmatch(utf8.charpattern) do
        if c == '\u{2013}' then
            if part ~= '' then
                table.insert(res, pandoc.Str(part))
                part = ''
            end
            table.insert(res, pandoc.RawInline('html', '&ndash;'))
        elseif c == '\u{2014}' then
            if part ~= '' then
                table.insert(res, pandoc.Str(part))
                part = ''
            end
            table.insert(res, pandoc.RawInline('html', '&mdash;'))
        elseif c == '\u{00A0}' then
            if part ~= '' then
                table.insert(res, pandoc.Str(part))
                part = ''
            end
            table.insert(res, pandoc.RawInline('html', '&nbsp;'))
        else
            part = part .. c
        end
    end
    if part ~= '' then
        table.insert(res, pandoc.Str(part))
    end

    return res
end

function Div(el)
    if el.classes[1] == 'center' then
        local res = {}
        table.insert(res, pandoc.RawBlock('markdown', '<' .. el.classes[1] .. '>'))
        for _, block in ipairs(el.content) do
            table.insert(res, block)
        end
        table.insert(res, pandoc.RawBlock('markdown', '</' .. el.classes[1] .. '>'))
        return res

    elseif el.classes[1] == 'epigraph' then
        local filter = {
            Math = Math,
            Code = Code,
            Quoted = Quoted,
            Str = Str,
            Para = function (s)
                return pandoc.Plain(s.content)
            end,
            Span = function (s)
                return s.content
            end
        }

        function renderHTML(el)
            local doc = pandoc.Pandoc({el})
            local rendered = pandoc.write(doc:walk(filter), 'html')
            return pandoc.RawBlock('markdown', rendered)
        end

        local res = {}
        table.insert(res, pandoc.RawBlock('markdown', '<div style="margin-left: 67%;">'))
        if el.content[1] then
            table.insert(res, renderHTML(el.content[1]))
        end
        table.insert(res, pandoc.RawBlock('markdown', '<div style="border-top: 1px solid #888;"></div>'))
        if el.content[2] then
            table.insert(res, renderHTML(el.content[2]))
        end
        table.insert(res, pandoc.RawBlock('markdown', '</div>'))
        return res
    end

    return nil
end
`

// texMacros redefines Polygon's deprecated short commands to their
// modern equivalents before handing the document to pandoc.
const texMacros = `
\renewcommand{\bf}{\textbf}
\renewcommand{\it}{\textit}
\renewcommand{\tt}{\texttt}
\renewcommand{\t}{\texttt}
`

var (
	filterOnce sync.Once
	filterPath string
	filterErr  error
)

// ensureFilter writes the Lua filter to a process-wide temp file the
// first time it is needed: every pandoc invocation in this process
// reuses the same filter file instead of re-writing it per call. The
// pandoc binary itself is not looked up here or at startup; a missing
// binary shows up as a failed conversion.
func ensureFilter() (string, error) {
	filterOnce.Do(func() {
		dir, err := os.MkdirTemp("", "polyimport-pandoc-")
		if err != nil {
			filterErr = err
			return
		}
		p := filepath.Join(dir, "filter.lua")
		if err := os.WriteFile(p, []byte(pandocFilterLua), 0644); err != nil {
			filterErr = err
			return
		}
		filterPath = p
	})
	return filterPath, filterErr
}

// Options carries the ambient dependencies Build needs: the host's
// media store, the language table, and the pandoc binary location.
type Options struct {
	PandocPath  string
	LanguageOf  func(polygonLanguage string) (code string, ok bool)
	Media       judgehost.MediaStore
	ProblemCode string
	UploadID    string
	ImageCache  map[string]string // sha1 hex -> public URL, shared across one job.
	Retry       retry.Config
	Logger      *slog.Logger
}

// Build converts every application/x-tex statement block in descriptor
// into a Statement. An empty result (no statement blocks) yields a
// single anonymous placeholder named from the descriptor's first <name>.
func Build(ctx context.Context, archive *pkgarchive.Reader, descriptor *pkgarchive.Descriptor, opts Options) ([]Statement, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ImageCache == nil {
		opts.ImageCache = make(map[string]string)
	}

	texBlocks := make([]pkgarchive.Statement, 0, len(descriptor.Statements))
	for _, s := range descriptor.Statements {
		if s.Type == "application/x-tex" {
			texBlocks = append(texBlocks, s)
		}
	}

	if len(texBlocks) == 0 {
		logger.Warn("statement.none_found")
		name := "Unnamed"
		if len(descriptor.Names) > 0 {
			name = descriptor.Names[0].Value
		}
		return []Statement{{Name: name}}, nil
	}

	var statements []Statement
	seen := make(map[string]bool)

	for _, block := range texBlocks {
		originLanguage := block.Language
		if originLanguage == "" {
			originLanguage = "unknown"
		}

		language, ok := opts.LanguageOf(originLanguage)
		if !ok {
			logger.Warn("statement.unknown_language", "language", originLanguage)
		}

		if seen[language] {
			logger.Warn("statement.duplicate_language", "language", language)
			continue
		}
		seen[language] = true

		logger.Info("statement.adding", "language", language)

		stmt, err := buildOne(ctx, archive, descriptor, block, originLanguage, language, opts, logger)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}

	return statements, nil
}

type properties struct {
	Legend      string       `json:"legend"`
	Input       string       `json:"input"`
	Output      string       `json:"output"`
	Interaction string       `json:"interaction"`
	Scoring     string       `json:"scoring"`
	SampleTests []sampleTest `json:"sampleTests"`
	Notes       string       `json:"notes"`
	Tutorial    string       `json:"tutorial"`
}

type sampleTest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func buildOne(ctx context.Context, archive *pkgarchive.Reader, descriptor *pkgarchive.Descriptor, block pkgarchive.Statement, originLanguage, language string, opts Options, logger *slog.Logger) (Statement, error) {
	statementFolder := path.Dir(block.Path)
	propsPath := path.Join(statementFolder, "problem-properties.json")
	if !archive.Has(propsPath) {
		return Statement{}, importerr.NewDescriptorError(
			fmt.Sprintf("problem-properties.json not found at %s", propsPath),
			"",
			"every application/x-tex statement must have a matching problem-properties.json",
			nil,
		)
	}

	raw, err := archive.ReadAll(propsPath)
	if err != nil {
		return Statement{}, err
	}
	var props properties
	if err := json.Unmarshal(raw, &props); err != nil {
		return Statement{}, importerr.NewDescriptorError(
			fmt.Sprintf("malformed problem-properties.json at %s", propsPath),
			err.Error(),
			"",
			err,
		)
	}

	description, err := parseProperties(ctx, language, props, opts, logger)
	if err != nil {
		return Statement{}, err
	}
	description, err = processImages(ctx, archive, statementFolder, description, opts)
	if err != nil {
		return Statement{}, err
	}

	name := ""
	for _, n := range descriptor.Names {
		if n.Language == originLanguage {
			name = n.Value
			break
		}
	}

	var tutorial string
	if strings.TrimSpace(props.Tutorial) != "" {
		tutorial, err = pandocTexToMarkdown(ctx, opts.PandocPath, props.Tutorial, opts.Retry, logger)
		if err != nil {
			return Statement{}, err
		}
		tutorial, err = processImages(ctx, archive, statementFolder, tutorial, opts)
		if err != nil {
			return Statement{}, err
		}
	}

	return Statement{Language: language, Name: name, Description: description, Tutorial: tutorial}, nil
}

// heading returns "\n## <text>\n\n" or, at a deeper level, "\n### <text>\n\n".
func heading(text string, level int) string {
	return "\n" + strings.Repeat("#", level) + " " + text + "\n\n"
}

func parseProperties(ctx context.Context, language string, props properties, opts Options, logger *slog.Logger) (string, error) {
	tr := sectionHeadings(language)

	description, err := pandocTexToMarkdown(ctx, opts.PandocPath, props.Legend, opts.Retry, logger)
	if err != nil {
		return "", err
	}

	appendSection := func(label, tex string) error {
		if strings.TrimSpace(tex) == "" {
			return nil
		}
		md, err := pandocTexToMarkdown(ctx, opts.PandocPath, tex, opts.Retry, logger)
		if err != nil {
			return err
		}
		description += heading(label, 2) + md
		return nil
	}

	if err := appendSection(tr.Input, props.Input); err != nil {
		return "", err
	}
	if err := appendSection(tr.Output, props.Output); err != nil {
		return "", err
	}
	if err := appendSection(tr.Interaction, props.Interaction); err != nil {
		return "", err
	}
	if err := appendSection(tr.Scoring, props.Scoring); err != nil {
		return "", err
	}

	if len(props.SampleTests) > 0 {
		description += heading(tr.Samples, 2)
		for i, sample := range props.SampleTests {
			n := i + 1
			description += heading(fmt.Sprintf("%s %d", tr.Input, n), 3)
			description += "```\n" + strings.TrimSpace(sample.Input) + "\n```\n"
			description += heading(fmt.Sprintf("%s %d", tr.Output, n), 3)
			description += "```\n" + strings.TrimSpace(sample.Output) + "\n```\n"
		}
	}

	if err := appendSection(tr.Notes, props.Notes); err != nil {
		return "", err
	}

	return description, nil
}

// headings is the small fixed set of section labels parseProperties
// needs, translated per target language. Unrecognized languages fall
// back to English, matching the "unknown languages are retained as-is"
// rule's spirit: we never fail an import over a missing translation.
type headings struct {
	Input, Output, Interaction, Scoring, Samples, Notes string
}

var headingTable = map[string]headings{
	"en": {"Input", "Output", "Interaction", "Scoring", "Samples", "Notes"},
	"ru": {"Входные данные", "Выходные данные", "Взаимодействие", "Оценивание", "Примеры", "Замечания"},
	"es": {"Entrada", "Salida", "Interacción", "Puntuación", "Ejemplos", "Notas"},
	"fr": {"Entrée", "Sortie", "Interaction", "Notation", "Exemples", "Remarques"},
	"de": {"Eingabe", "Ausgabe", "Interaktion", "Bewertung", "Beispiele", "Anmerkungen"},
	"pt": {"Entrada", "Saída", "Interação", "Pontuação", "Exemplos", "Notas"},
}

func sectionHeadings(language string) headings {
	if h, ok := headingTable[language]; ok {
		return h
	}
	return headingTable["en"]
}

var (
	markdownImageRe = regexp.MustCompile(`!\[image\]\(([^)]+)\)`)
	imgTagRe        = regexp.MustCompile(`<\s*img[^>]*>`)
	imgSrcRe        = regexp.MustCompile(`src\s*=\s*["']([^"']*)["']`)
)

// processImages resolves every ![image](path) and <img src="path"> in
// text relative to statementFolder, content-addresses the bytes by
// sha1, stores each exactly once via opts.Media, and rewrites the
// occurrence to the stored file's public URL. opts.ImageCache dedupes
// across every statement in one job, not just within a single call.
func processImages(ctx context.Context, archive *pkgarchive.Reader, statementFolder, text string, opts Options) (string, error) {
	save := func(imagePath string) (string, error) {
		normalized := path.Clean(path.Join(statementFolder, imagePath))
		data, err := archive.ReadAll(normalized)
		if err != nil {
			return "", err
		}

		sum := sha1.Sum(data)
		digest := hex.EncodeToString(sum[:])

		if url, ok := opts.ImageCache[digest]; ok {
			metrics.RecordMediaDedup()
			return url, nil
		}

		storedPath := fmt.Sprintf("problems/%s/%s/%s_%s", opts.ProblemCode, opts.UploadID, digest, path.Base(imagePath))
		if err := opts.Media.Save(ctx, storedPath, data); err != nil {
			return "", importerr.NewInternalError("store statement image", err.Error(), "check the media store's permissions and free space", err)
		}

		url := opts.Media.PublicURL(storedPath)
		opts.ImageCache[digest] = url
		metrics.RecordMediaStored()
		return url, nil
	}

	var rewriteErr error
	text = markdownImageRe.ReplaceAllStringFunc(text, func(match string) string {
		if rewriteErr != nil {
			return match
		}
		sub := markdownImageRe.FindStringSubmatch(match)
		url, err := save(sub[1])
		if err != nil {
			rewriteErr = err
			return match
		}
		return "![image](" + url + ")"
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}

	text = imgTagRe.ReplaceAllStringFunc(text, func(tag string) string {
		if rewriteErr != nil {
			return tag
		}
		src := imgSrcRe.FindStringSubmatch(tag)
		if src == nil {
			return tag
		}
		url, err := save(src[1])
		if err != nil {
			rewriteErr = err
			return tag
		}
		return strings.Replace(tag, src[1], url, 1)
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}

	return text, nil
}

// pandocTexToMarkdown shells out to pandoc with the shared Lua filter
// and macro prologue, retrying transient subprocess failures.
func pandocTexToMarkdown(ctx context.Context, pandocPath, tex string, retryCfg retry.Config, logger *slog.Logger) (string, error) {
	filter, err := ensureFilter()
	if err != nil {
		return "", importerr.NewInternalError("prepare pandoc filter", err.Error(), "check the system temp directory is writable", err)
	}
	if pandocPath == "" {
		pandocPath = "pandoc"
	}

	onRetry := func(attempt int, sleep time.Duration, cause error) {
		metrics.RecordPandocRetry()
		logger.Warn("statement.pandoc.retry", "attempt", attempt, "sleep", sleep, "error", cause)
	}

	var out string
	err = retry.Do(ctx, retryCfg, isTransientExecError, onRetry, func() error {
		result, runErr := runPandoc(ctx, pandocPath, filter, tex)
		if runErr != nil {
			return runErr
		}
		out = result
		return nil
	})
	if err != nil {
		return "", importerr.NewInternalError("convert statement LaTeX to Markdown", err.Error(), "confirm pandoc is installed and on PATH", err)
	}
	return out, nil
}

// runPandoc writes tex (prefixed with the macro prologue) into a fresh
// scratch directory and shells out to pandoc once with the shared Lua
// filter, capturing stderr for diagnostics on failure. Grounded on
// the same exec.Command-and-capture shape used elsewhere in this
// codebase to invoke external tools.
func runPandoc(ctx context.Context, pandocPath, filterPath, tex string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "polyimport-statement-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	texPath := filepath.Join(tmpDir, "temp.tex")
	if err := os.WriteFile(texPath, []byte(texMacros+tex), 0644); err != nil {
		return "", err
	}
	mdPath := filepath.Join(tmpDir, "temp.md")

	cmd := exec.CommandContext(ctx, pandocPath,
		"--lua-filter="+filterPath,
		"-t", "gfm",
		"-o", mdPath,
		texPath,
	)
	cmd.Dir = tmpDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pandoc: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	md, err := os.ReadFile(mdPath)
	if err != nil {
		return "", err
	}
	return string(md), nil
}

// isTransientExecError classifies only subprocess launch/resource
// failures as retryable; a pandoc parse error on malformed TeX will
// fail identically on every attempt, so it is not retried.
func isTransientExecError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"resource temporarily unavailable", "too many open files", "cannot allocate memory", "text file busy"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
