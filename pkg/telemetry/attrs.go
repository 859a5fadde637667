package telemetry

import (
	"fmt"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	ActionCategory string

	TargetHarness    optional[string]    // b3.target.harness
	FuzzEngine       optional[string]    // b3.fuzz.engine
	EffortWeight     optional[string]    // b3.effort.weight
	corpusSource     optional[string]    // fuzz.corpus.source
	corpusUpdateTime optional[time.Time] // fuzz.corpus.update.time
	corpusSize       optional[int]       // fuzz.corpus.size
	corpusEnveloped  optional[int]       // fuzz.corpus.enveloped
	corpusAdditions  optional[[]string]  // fuzz.corpus.additions

	extraAttributes map[string]any
}

func NewSpanAttributes(actionCategory ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  actionCategory.String(),
		extraAttributes: make(map[string]any),
	}
}

// EmptySpanAttributes has no action category and is meant to be merged into.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge copies the fields set in other that are unset here. A non-empty
// action category always wins.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}

	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.TargetHarness, &other.TargetHarness)
	mergeOptional(&o.FuzzEngine, &other.FuzzEngine)
	mergeOptional(&o.EffortWeight, &other.EffortWeight)
	mergeOptional(&o.corpusSource, &other.corpusSource)
	mergeOptional(&o.corpusUpdateTime, &other.corpusUpdateTime)
	mergeOptional(&o.corpusSize, &other.corpusSize)
	mergeOptional(&o.corpusEnveloped, &other.corpusEnveloped)
	mergeOptional(&o.corpusAdditions, &other.corpusAdditions)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithTargetHarness(val string) *SpanAttributes {
	o.TargetHarness.Set(val)
	return o
}

func (o *SpanAttributes) WithFuzzEngine(val string) *SpanAttributes {
	o.FuzzEngine.Set(val)
	return o
}

func (o *SpanAttributes) WithEffortWeight(val string) *SpanAttributes {
	o.EffortWeight.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusSource(val string) *SpanAttributes {
	o.corpusSource.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusUpdateTime(val time.Time) *SpanAttributes {
	o.corpusUpdateTime.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusSize(val int) *SpanAttributes {
	o.corpusSize.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusEnveloped(val int) *SpanAttributes {
	o.corpusEnveloped.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusAdditions(val []string) *SpanAttributes {
	o.corpusAdditions.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	attrs = append(attrs, attribute.String("b3.action.category", o.ActionCategory))
	if o.TargetHarness.set {
		attrs = append(attrs, attribute.String("b3.target.harness", o.TargetHarness.val))
	}
	if o.FuzzEngine.set {
		attrs = append(attrs, attribute.String("b3.fuzz.engine", o.FuzzEngine.val))
	}
	if o.EffortWeight.set {
		attrs = append(attrs, attribute.String("b3.effort.weight", o.EffortWeight.val))
	}
	if o.corpusSource.set {
		attrs = append(attrs, attribute.String("fuzz.corpus.source", o.corpusSource.val))
	}
	if o.corpusUpdateTime.set {
		attrs = append(attrs, attribute.String("fuzz.corpus.update.time", o.corpusUpdateTime.val.Format(time.RFC3339Nano)))
	}
	if o.corpusSize.set {
		attrs = append(attrs, attribute.Int("fuzz.corpus.size", o.corpusSize.val))
	}
	if o.corpusEnveloped.set {
		attrs = append(attrs, attribute.Int("fuzz.corpus.enveloped", o.corpusEnveloped.val))
	}
	if o.corpusAdditions.set {
		attrs = append(attrs, attribute.StringSlice("fuzz.corpus.additions", o.corpusAdditions.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
