package aggregate

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
	"github.com/ti/mongomock/filter"
	"github.com/ti/mongomock/mongoerr"
	"github.com/ti/mongomock/update"
)

func init() {
	filter.RegisterExprCompiler(func(spec any) (filter.ExprEvaluator, error) {
		e, err := CompileExpr(spec)
		if err != nil {
			return nil, err
		}
		return e.Evaluate, nil
	})
	update.RegisterPipelineRunner(runPipelineUpdate)
}

// LookupFunc fetches the documents of a foreign collection by name. It is
// the pipeline's only reach outside its input; $lookup and $graphLookup
// fail without one.
type LookupFunc func(collection string) ([]bson.D, error)

// Options configure a pipeline run.
type Options struct {
	Lookup LookupFunc
}

// stream yields one document per call; ok is false once exhausted. Streaming
// stages wrap their input lazily, blocking stages drain it first.
type stream func() (doc bson.D, ok bool, err error)

type stage interface {
	connect(in stream) stream
}

// Pipeline is a compiled aggregation pipeline, reusable across inputs.
type Pipeline struct {
	stages []stage
}

// Compile parses and compiles a pipeline specification, which must be an
// array of single-field stage documents.
func Compile(pipeline any, opts Options) (*Pipeline, error) {
	arr := compare.AsArray(pipeline)
	if arr == nil {
		return nil, mongoerr.NewFailedToParse("pipeline must be an array of stage documents")
	}
	stages := make([]stage, 0, len(arr))
	for _, s := range arr {
		if !compare.IsDocument(s) {
			return nil, mongoerr.NewFailedToParse("each pipeline stage must be a document")
		}
		doc := compare.AsDocument(s)
		if len(doc) != 1 {
			return nil, mongoerr.NewFailedToParse("a pipeline stage must have exactly one field")
		}
		st, err := compileStage(doc[0].Key, doc[0].Value, opts)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return &Pipeline{stages: stages}, nil
}

// Run compiles and executes a pipeline over the given documents. The input
// slice and its documents are never modified.
func Run(docs []bson.D, pipeline any, opts Options) ([]bson.D, error) {
	p, err := Compile(pipeline, opts)
	if err != nil {
		return nil, err
	}
	return p.Run(docs)
}

// Run executes the compiled pipeline over the given documents.
func (p *Pipeline) Run(docs []bson.D) ([]bson.D, error) {
	src := sliceStream(docs)
	for _, st := range p.stages {
		src = st.connect(src)
	}
	return drain(src)
}

func sliceStream(docs []bson.D) stream {
	i := 0
	return func() (bson.D, bool, error) {
		if i >= len(docs) {
			return nil, false, nil
		}
		d := fieldpath.CloneDocument(docs[i])
		i++
		return d, true, nil
	}
}

func drain(s stream) ([]bson.D, error) {
	out := []bson.D{}
	for {
		d, ok, err := s()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, d)
	}
}

func compileStage(name string, arg any, opts Options) (stage, error) {
	switch name {
	case "$match":
		return compileMatchStage(arg)
	case "$project":
		return compileProjectStage(arg)
	case "$addFields", "$set":
		return compileAddFieldsStage(name, arg)
	case "$unset":
		return compileUnsetStage(arg)
	case "$replaceRoot", "$replaceWith":
		return compileReplaceRootStage(name, arg)
	case "$unwind":
		return compileUnwindStage(arg)
	case "$lookup":
		return compileLookupStage(arg, opts)
	case "$graphLookup":
		return compileGraphLookupStage(arg, opts)
	case "$limit":
		return compileLimitStage(arg)
	case "$skip":
		return compileSkipStage(arg)
	case "$count":
		return compileCountStage(arg)
	case "$sort":
		return compileSortStage(arg)
	case "$group":
		return compileGroupStage(arg)
	case "$facet":
		return compileFacetStage(arg, opts)
	case "$sortByCount":
		return compileSortByCountStage(arg)
	case "$sample":
		return compileSampleStage(arg)
	default:
		return nil, mongoerr.NewUnsupportedOperator("pipeline stage", name)
	}
}

// pipelineUpdateStages are the stages an aggregation-pipeline-form update
// may use.
var pipelineUpdateStages = map[string]bool{
	"$addFields": true, "$set": true, "$project": true, "$unset": true,
	"$replaceRoot": true, "$replaceWith": true,
}

func runPipelineUpdate(doc bson.D, pipeline bson.A) (bson.D, error) {
	for _, s := range pipeline {
		if !compare.IsDocument(s) {
			return nil, mongoerr.NewFailedToParse("each pipeline stage must be a document")
		}
		stageDoc := compare.AsDocument(s)
		if len(stageDoc) != 1 {
			return nil, mongoerr.NewFailedToParse("a pipeline stage must have exactly one field")
		}
		if !pipelineUpdateStages[stageDoc[0].Key] {
			return nil, mongoerr.NewUnsupportedOperator("update pipeline stage", stageDoc[0].Key)
		}
	}
	out, err := Run([]bson.D{doc}, pipeline, Options{})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, mongoerr.NewBadValue("update", "pipeline must produce exactly one document")
	}
	return out[0], nil
}
