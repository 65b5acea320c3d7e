package menu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.Float32, reflect.Float64:
			return isFinite(fl.Field().Float())
		default:
			return false
		}
	})
	return v
}

// Normalize extracts a JSON value from model output text and normalizes it
// into a validated canonical menu.
func Normalize(text string, opts Options) (*Result, error) {
	raw, extracted, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	res, err := NormalizeValue(raw, opts)
	if err != nil {
		return nil, err
	}
	if extracted {
		res.Notes = append([]string{"json extracted from surrounding text"}, res.Notes...)
		res.Quality = QualitySalvaged
	}
	return res, nil
}

// extractJSON parses the whole text, falling back to the span between the
// first '{' and the last '}'.
func extractJSON(text string) (json.RawMessage, bool, error) {
	raw := strings.TrimSpace(text)
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), false, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false, &ParseError{}
	}
	sub := raw[start : end+1]
	var decoded any
	if err := json.Unmarshal([]byte(sub), &decoded); err != nil {
		return nil, false, &ParseError{Err: err}
	}
	return json.RawMessage(sub), true, nil
}

// candidate is the tagged union produced by shape sniffing.
type candidate struct {
	shape  Shape
	fields map[string]any
}

func sniff(v any) candidate {
	obj, ok := v.(map[string]any)
	if !ok {
		return candidate{shape: ShapeUnrecognized}
	}
	if _, ok := obj["items"].([]any); ok {
		return candidate{shape: ShapeCanonical, fields: obj}
	}
	if _, ok := obj["exercises"].([]any); ok {
		return candidate{shape: ShapeAlternate, fields: obj}
	}
	return candidate{shape: ShapeUnrecognized}
}

// NormalizeValue normalizes an already parsed JSON value, such as a
// structured menu returned directly by the endpoint.
func NormalizeValue(raw json.RawMessage, opts Options) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ParseError{Err: err}
	}

	n := &normalizer{}
	c := sniff(v)
	var (
		m   *Menu
		err error
	)
	switch c.shape {
	case ShapeCanonical:
		m, err = n.canonical(c.fields)
	case ShapeAlternate:
		m, err = n.alternate(c.fields)
	default:
		return nil, schemaErr(ReasonUnsupportedSchema, "")
	}
	if err != nil {
		return nil, err
	}
	if err := validateMenu(m); err != nil {
		return nil, err
	}
	EnsureDisclaimer(m, opts.Locale)

	res := &Result{Menu: m, Shape: c.shape, Quality: QualityStrict, Notes: n.notes}
	if len(n.notes) > 0 {
		res.Quality = QualitySalvaged
	}
	return res, nil
}

type normalizer struct {
	notes []string
}

func (n *normalizer) note(format string, args ...any) {
	n.notes = append(n.notes, fmt.Sprintf(format, args...))
}

func (n *normalizer) canonical(obj map[string]any) (*Menu, error) {
	if raw, present := obj["version"]; !present {
		n.note("missing version set to %d", Version)
	} else if v, ok := coerceFinite(raw); !ok || v != Version {
		n.note("version %v coerced to %d", raw, Version)
	}

	m := &Menu{
		Version:   Version,
		Title:     stringOr(obj["title"], ""),
		Warnings:  stringList(obj["warnings"]),
		Rationale: stringList(obj["rationale"]),
		Cooldown:  stringList(obj["cooldown"]),
	}

	rawItems := obj["items"].([]any)
	if len(rawItems) > MaxItems {
		return nil, schemaErr(ReasonInvalidItems, "items")
	}
	m.Items = make([]Item, 0, len(rawItems))
	for i, it := range rawItems {
		path := fmt.Sprintf("items[%d]", i)
		itObj, ok := it.(map[string]any)
		if !ok {
			return nil, schemaErr(ReasonInvalidItem, path)
		}
		name, ok := itObj["exerciseName"].(string)
		if !ok {
			return nil, schemaErr(ReasonInvalidExerciseName, path+".exerciseName")
		}
		item := Item{
			BodyPart:     stringOr(itObj["bodyPart"], ""),
			ExerciseName: name,
			Note:         optionalString(itObj["note"]),
		}

		rawSets, _ := itObj["sets"].([]any)
		if len(rawSets) > MaxSetsPerItem {
			return nil, schemaErr(ReasonInvalidSets, path+".sets")
		}
		for j, s := range rawSets {
			set, err := n.set(s, fmt.Sprintf("%s.sets[%d]", path, j))
			if err != nil {
				return nil, err
			}
			item.Sets = append(item.Sets, set)
		}
		m.Items = append(m.Items, item)
	}
	return m, nil
}

func (n *normalizer) set(v any, path string) (Set, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Set{}, schemaErr(ReasonInvalidSet, path)
	}
	reps, err := n.reps(obj["reps"], path+".reps")
	if err != nil {
		return Set{}, err
	}

	rawWeight, present := obj["weight"]
	if !present {
		return Set{}, schemaErr(ReasonInvalidWeight, path+".weight")
	}
	var weight *float64
	if rawWeight != nil {
		w, ok := coerceFinite(rawWeight)
		if !ok {
			return Set{}, schemaErr(ReasonInvalidWeight, path+".weight")
		}
		weight = &w
	}

	return Set{
		Reps:    reps,
		Weight:  weight,
		RPE:     optionalFinite(obj["rpe"]),
		RestSec: optionalFinite(obj["restSec"]),
		Memo:    optionalString(obj["memo"]),
	}, nil
}

func (n *normalizer) alternate(obj map[string]any) (*Menu, error) {
	m := &Menu{
		Version:   Version,
		Title:     stringOr(obj["title"], ""),
		Warnings:  stringList(obj["warnings"]),
		Rationale: []string{},
		Cooldown:  []string{},
	}

	entries := obj["exercises"].([]any)
	if len(entries) > MaxItems {
		return nil, schemaErr(ReasonInvalidItems, "exercises")
	}
	m.Items = make([]Item, 0, len(entries))
	for i, e := range entries {
		path := fmt.Sprintf("exercises[%d]", i)
		entry, ok := e.(map[string]any)
		if !ok {
			return nil, schemaErr(ReasonInvalidItem, path)
		}
		name, ok := entry["name"].(string)
		if !ok {
			return nil, schemaErr(ReasonInvalidExerciseName, path+".name")
		}
		count, ok := positiveInt(entry["sets"])
		if !ok || count > MaxSetsPerItem {
			return nil, schemaErr(ReasonInvalidSets, path+".sets")
		}
		reps, err := n.reps(entry["reps"], path+".reps")
		if err != nil {
			return nil, err
		}
		memo := JoinMemo(optionalString(entry["unit"]), optionalString(entry["notes"]))

		item := Item{ExerciseName: name, Sets: make([]Set, count)}
		for j := range item.Sets {
			item.Sets[j] = Set{Reps: reps, Memo: memo}
		}
		m.Items = append(m.Items, item)
	}
	return m, nil
}

// reps resolves a repetition count. Numbers and numeric strings must be
// positive integers; any other string yields its first digit run, which is
// recorded as a salvage note.
func (n *normalizer) reps(v any, path string) (int, error) {
	switch x := v.(type) {
	case json.Number:
		if r, ok := positiveInt(x); ok {
			return r, nil
		}
	case string:
		s := strings.TrimSpace(x)
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			if r, ok := positiveInt(s); ok {
				return r, nil
			}
			break
		}
		if r, ok := firstDigitRun(s); ok && r > 0 {
			n.note("reps %q at %s salvaged as %d", x, path, r)
			return r, nil
		}
	}
	return 0, schemaErr(ReasonInvalidReps, path)
}

func validateMenu(m *Menu) error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("failed to validate menu: %w", err)
	}
	fe := verrs[0]

	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	reason := "invalid " + fe.Field()
	switch fe.Field() {
	case "items":
		reason = ReasonInvalidItems
	case "exerciseName":
		reason = ReasonInvalidExerciseName
	case "sets":
		reason = ReasonInvalidSets
	case "reps":
		reason = ReasonInvalidReps
	case "weight":
		reason = ReasonInvalidWeight
	}
	return schemaErr(reason, path)
}

// JoinMemo trims the parts and joins the non-empty ones with " / ".
// It returns nil when every part is empty.
func JoinMemo(parts ...*string) *string {
	var kept []string
	for _, p := range parts {
		if p == nil {
			continue
		}
		if s := strings.TrimSpace(*p); s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	joined := strings.Join(kept, " / ")
	return &joined
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// coerceFinite accepts JSON numbers and numeric strings.
func coerceFinite(v any) (float64, bool) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case float64:
		return x, isFinite(x)
	case string:
		s = strings.TrimSpace(x)
	default:
		return 0, false
	}
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !isFinite(f) {
		return 0, false
	}
	return f, true
}

func positiveInt(v any) (int, bool) {
	f, ok := coerceFinite(v)
	if !ok || f != math.Trunc(f) || f <= 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// firstDigitRun returns the first run of decimal digits in s. Full-width
// digits count as digits. Runs above math.MaxInt32 are rejected, the same
// bound positiveInt applies.
func firstDigitRun(s string) (int, bool) {
	var digits []rune
	for _, r := range s {
		if r >= '０' && r <= '９' {
			r = '0' + (r - '０')
		}
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
			continue
		}
		if len(digits) > 0 {
			break
		}
	}
	if len(digits) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil || n > math.MaxInt32 {
		return 0, false
	}
	return n, true
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

func optionalString(v any) *string {
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

func optionalFinite(v any) *float64 {
	if f, ok := coerceFinite(v); ok {
		return &f
	}
	return nil
}

func stringList(v any) []string {
	out := []string{}
	arr, _ := v.([]any)
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
