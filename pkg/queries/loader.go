// Package queries resolves named queries into validated, immutable
// QuerySpecs. Resolution is the fail-fast point of the pipeline: the
// GraphQL document, the jq expressions and the column schema are all
// validated here, before any request is issued.
package queries

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
	"github.com/jeanboutros/monday-grabber/pkg/extract"
	"github.com/jeanboutros/monday-grabber/pkg/models"
)

// Definition is one query entry of the queries config file.
type Definition struct {
	Description    string                 `mapstructure:"description"`
	GraphQLFile    string                 `mapstructure:"graphql_file"`
	EntityType     string                 `mapstructure:"entity_type"`
	EntityVariable string                 `mapstructure:"entity_variable"`
	Variables      map[string]interface{} `mapstructure:"variables"`
	Pagination     models.PaginationRule  `mapstructure:"pagination"`
	Transform      string                 `mapstructure:"transform"`
	Columns        []models.Column        `mapstructure:"columns"`
	Policies       Policies               `mapstructure:"policies"`
	Output         models.OutputSpec      `mapstructure:"output"`
}

// Policies holds the per-query failure policies.
type Policies struct {
	Rows     string `mapstructure:"rows"`
	Entities string `mapstructure:"entities"`
}

// File is the decoded queries config file.
type File struct {
	Queries map[string]Definition `mapstructure:"queries"`
	Boards  map[string]string     `mapstructure:"boards"`
}

// Loader resolves query names to specs. Query documents are read from
// a directory of .graphql files and cached.
type Loader struct {
	dir  string
	file File

	mu    sync.Mutex
	cache map[string]string
}

// NewLoader reads the queries config file and returns a loader for the
// given documents directory.
func NewLoader(queriesDir, configPath string) (*Loader, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, errors.CodeConfigInvalid, "read queries config %s", configPath)
	}
	var file File
	if err := v.Unmarshal(&file); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigInvalid, "decode queries config")
	}
	return &Loader{
		dir:   queriesDir,
		file:  file,
		cache: make(map[string]string),
	}, nil
}

// Names returns every configured query name.
func (l *Loader) Names() []string {
	names := make([]string, 0, len(l.file.Queries))
	for name := range l.file.Queries {
		names = append(names, name)
	}
	return names
}

// BoardID resolves a configured board key to its entity ID.
func (l *Loader) BoardID(key string) (string, error) {
	id, ok := l.file.Boards[strings.ToLower(key)]
	if !ok {
		return "", errors.Newf(errors.CodeConfigInvalid, "board %q not found in configuration", key)
	}
	return id, nil
}

// Resolve builds a validated QuerySpec for a configured query name.
func (l *Loader) Resolve(name string) (*models.QuerySpec, error) {
	def, ok := l.file.Queries[strings.ToLower(name)]
	if !ok {
		return nil, errors.Newf(errors.CodeQueryNotFound, "query %q not found in configuration", name)
	}

	document, err := l.loadDocument(def.GraphQLFile, name)
	if err != nil {
		return nil, err
	}

	doc, err := parser.ParseQuery(&ast.Source{Name: name, Input: document})
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeConfigInvalid, "query %q: invalid GraphQL document", name)
	}

	spec := &models.QuerySpec{
		Name:           name,
		Description:    def.Description,
		Document:       document,
		Entity:         models.EntityType(def.EntityType),
		EntityVariable: def.EntityVariable,
		Variables:      def.Variables,
		Pagination:     def.Pagination,
		Transform:      def.Transform,
		Columns:        models.Schema(def.Columns),
		Rows:           models.RowPolicy(def.Policies.Rows),
		Entities:       models.EntityPolicy(def.Policies.Entities),
		Output:         def.Output,
	}
	applyDefaults(spec)

	if err := l.validate(spec, doc); err != nil {
		return nil, err
	}
	return spec, nil
}

func applyDefaults(spec *models.QuerySpec) {
	if spec.Entity == "" {
		spec.Entity = models.EntityBoard
	}
	if spec.Rows == "" {
		// Strict by default: silent data loss is never acceptable.
		spec.Rows = models.RowStrict
	}
	if spec.Entities == "" {
		spec.Entities = models.EntityBestEffort
	}
	if spec.Pagination.Enabled && spec.Pagination.CursorVariable == "" {
		spec.Pagination.CursorVariable = "cursor"
	}
	if spec.Output.Format == "" {
		spec.Output.Format = models.FormatParquet
	}
}

// validate fails fast on everything detectable without a payload.
func (l *Loader) validate(spec *models.QuerySpec, doc *ast.QueryDocument) error {
	name := spec.Name
	if !spec.Entity.Valid() {
		return errors.Newf(errors.CodeConfigInvalid, "query %q: unknown entity type %q", name, spec.Entity)
	}
	if !spec.Rows.Valid() {
		return errors.Newf(errors.CodeConfigInvalid, "query %q: unknown row policy %q", name, spec.Rows)
	}
	if !spec.Entities.Valid() {
		return errors.Newf(errors.CodeConfigInvalid, "query %q: unknown entity policy %q", name, spec.Entities)
	}
	if !spec.Output.Format.Valid() {
		return errors.Newf(errors.CodeConfigInvalid, "query %q: unknown output format %q", name, spec.Output.Format)
	}
	if err := spec.Columns.Validate(); err != nil {
		return errors.Wrapf(err, errors.CodeConfigInvalid, "query %q", name)
	}
	if _, err := extract.Compile(spec.Transform); err != nil {
		return errors.Wrapf(err, errors.CodeConfigInvalid, "query %q: transform", name)
	}

	declared := declaredVariables(doc)
	if spec.EntityVariable != "" {
		if _, ok := declared[spec.EntityVariable]; !ok {
			return errors.Newf(errors.CodeConfigInvalid,
				"query %q: entity variable $%s is not declared in the document", name, spec.EntityVariable)
		}
	}
	if spec.Pagination.Enabled {
		if _, err := extract.Compile(spec.Pagination.CursorPath); err != nil {
			return errors.Wrapf(err, errors.CodeConfigInvalid, "query %q: cursor_path", name)
		}
		if _, ok := declared[spec.Pagination.CursorVariable]; !ok {
			return errors.Newf(errors.CodeConfigInvalid,
				"query %q: cursor variable $%s is not declared in the document", name, spec.Pagination.CursorVariable)
		}
		if spec.Pagination.PageSizeVariable != "" {
			if _, ok := declared[spec.Pagination.PageSizeVariable]; !ok {
				return errors.Newf(errors.CodeConfigInvalid,
					"query %q: page size variable $%s is not declared in the document", name, spec.Pagination.PageSizeVariable)
			}
		}
	}
	return nil
}

func declaredVariables(doc *ast.QueryDocument) map[string]struct{} {
	vars := make(map[string]struct{})
	for _, op := range doc.Operations {
		for _, def := range op.VariableDefinitions {
			vars[def.Variable] = struct{}{}
		}
	}
	return vars
}

// loadDocument reads a .graphql file, caching by filename.
func (l *Loader) loadDocument(filename, queryName string) (string, error) {
	if filename == "" {
		filename = queryName + ".graphql"
	}
	if !strings.HasSuffix(filename, ".graphql") {
		filename += ".graphql"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if doc, ok := l.cache[filename]; ok {
		return doc, nil
	}

	path := filepath.Join(l.dir, filename)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Newf(errors.CodeQueryNotFound, "query file not found: %s", path)
		}
		return "", errors.Wrapf(err, errors.CodeConfigInvalid, "read query file %s", path)
	}
	doc := string(raw)
	if strings.TrimSpace(doc) == "" {
		return "", errors.New(errors.CodeConfigInvalid, fmt.Sprintf("query file %s is empty", path))
	}
	l.cache[filename] = doc
	return doc, nil
}
