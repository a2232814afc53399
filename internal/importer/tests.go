package importer

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/getkin/kin-openapi/openapi3"
	"pkt.systems/pslog"
)

// StrictnessLevel controls how deep/strict generated schema assertions are.
type StrictnessLevel int

const (
	// StrictnessLoose disables deep assertion generation.
	StrictnessLoose StrictnessLevel = iota
	// StrictnessStandard keeps baseline assertion generation (default).
	StrictnessStandard
	// StrictnessStrict enables deep nested assertions and numeric strictness.
	StrictnessStrict
)

func parseStrictness(level string) StrictnessLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "loose":
		return StrictnessLoose
	case "strict":
		return StrictnessStrict
	default:
		return StrictnessStandard
	}
}

// defaultTestScript asserts a 2xx status only.
func defaultTestScript() []string {
	return []string{
		`pm.test("status is 2xx", function () {`,
		`    pm.expect(pm.response.code).to.be.within(200, 299);`,
		`});`,
	}
}

// successResponse returns the lowest documented 2xx response and its code.
func successResponse(op *openapi3.Operation) (int, *openapi3.ResponseRef) {
	if op == nil || op.Responses == nil {
		return 0, nil
	}
	codes := make([]string, 0, op.Responses.Len())
	for code := range op.Responses.Map() {
		if strings.HasPrefix(code, "2") {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	for _, code := range codes {
		n, err := strconv.Atoi(code)
		if err != nil {
			// 2XX ranges assert the class only.
			n = 0
		}
		return n, op.Responses.Value(code)
	}
	return 0, nil
}

// buildSchemaTests generates pm assertions from the first 2xx response
// schema. It returns nil when no JSON schema is documented.
func buildSchemaTests(op *openapi3.Operation, doc *openapi3.T, level StrictnessLevel, log pslog.Logger) []string {
	code, respRef := successResponse(op)
	if respRef == nil || respRef.Value == nil || respRef.Value.Content == nil {
		return nil
	}
	media := respRef.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil
	}

	schema := media.Schema.Value
	depth := 1
	switch level {
	case StrictnessStrict:
		depth = 2
	case StrictnessLoose:
		depth = 0
	}
	const root = "body"
	asserts := []string{}
	if code > 0 {
		asserts = append(asserts, fmt.Sprintf("pm.expect(pm.response.code).to.equal(%d);", code))
	} else {
		asserts = append(asserts, "pm.expect(pm.response.code).to.be.within(200, 299);")
	}
	asserts = append(asserts, "var body = pm.response.json();")

	if isType(schema, "array") {
		asserts = append(asserts, "pm.expect(Array.isArray(body)).to.equal(true);")
		appendArrayChecks(&asserts, root, schema, level, depth)
	}

	if schema.Discriminator != nil && schema.Discriminator.PropertyName != "" {
		p := schema.Discriminator.PropertyName
		asserts = append(asserts, fmt.Sprintf("pm.expect(body).to.have.property('%s');", p))
		if len(schema.Discriminator.Mapping) > 0 {
			asserts = append(asserts, fmt.Sprintf("pm.expect(%s).to.include(body['%s']);", toJSArrayString(sortedKeys(schema.Discriminator.Mapping)), p))
		}
	}

	branchConds := variantTypeConds(schema.OneOf, root, level, depth)
	branchConds = append(branchConds, variantTypeConds(schema.AnyOf, root, level, depth)...)
	if len(branchConds) > 0 {
		asserts = append(asserts, fmt.Sprintf("pm.expect([%s].some(Boolean)).to.equal(true);", strings.Join(branchConds, ", ")))
	}
	if sw := discriminatorSwitch(schema, root, doc, level, depth); sw != "" {
		asserts = append(asserts, sw)
	}

	if isType(schema, "object") || len(schema.Properties) > 0 {
		if schema.MinProps > 0 {
			asserts = append(asserts, fmt.Sprintf("pm.expect(Object.keys(body).length).to.be.at.least(%d);", schema.MinProps))
		}
		if schema.MaxProps != nil && *schema.MaxProps > 0 {
			asserts = append(asserts, fmt.Sprintf("pm.expect(Object.keys(body).length).to.be.at.most(%d);", *schema.MaxProps))
		}
		for _, req := range schema.Required {
			asserts = append(asserts, fmt.Sprintf("pm.expect(body).to.have.property('%s');", req))
		}
		for _, name := range sortedKeys(schema.Properties) {
			prop := schema.Properties[name]
			if prop == nil || prop.Value == nil {
				continue
			}
			valExpr := fmt.Sprintf("body['%s']", name)
			required := slices.Contains(schema.Required, name) && !prop.Value.Nullable
			if required {
				asserts = append(asserts,
					fmt.Sprintf("pm.expect(%s).to.not.equal(undefined);", valExpr),
					fmt.Sprintf("pm.expect(%s).to.not.equal(null);", valExpr))
			}
			checks := propertyChecks(prop.Value, valExpr, level, depth)
			if len(checks) == 0 {
				continue
			}
			if required {
				asserts = append(asserts, checks...)
			} else {
				asserts = append(asserts, fmt.Sprintf("if (%s !== undefined && %s !== null) { %s }", valExpr, valExpr, strings.Join(checks, " ")))
			}
		}
	}

	lines := []string{`pm.test("response matches schema", function () {`}
	for _, a := range asserts {
		lines = append(lines, "    "+a)
	}
	lines = append(lines, "});")
	if err := checkJS(lines); err != nil && log != nil {
		// The script is kept; the runner reports the syntax error in context.
		log.Error("import.openapi.tests.invalid-js", "err", err)
	}
	return lines
}

func propertyChecks(s *openapi3.Schema, valExpr string, level StrictnessLevel, depth int) []string {
	checks := []string{}

	tp := firstType(s)
	switch tp {
	case "array":
		checks = append(checks, fmt.Sprintf("pm.expect(Array.isArray(%s)).to.equal(true);", valExpr))
		appendArrayChecks(&checks, valExpr, s, level, depth)
	case "object":
		if level >= StrictnessStrict {
			checks = append(checks,
				fmt.Sprintf("pm.expect(typeof %s).to.equal('object');", valExpr),
				fmt.Sprintf("pm.expect(Array.isArray(%s)).to.equal(false);", valExpr))
		}
		if s.MinProps > 0 {
			checks = append(checks, fmt.Sprintf("pm.expect(Object.keys(%s).length).to.be.at.least(%d);", valExpr, s.MinProps))
		}
		if s.MaxProps != nil && *s.MaxProps > 0 {
			checks = append(checks, fmt.Sprintf("pm.expect(Object.keys(%s).length).to.be.at.most(%d);", valExpr, *s.MaxProps))
		}
		if depth > 0 && level >= StrictnessStrict {
			for _, name := range sortedKeys(s.Properties) {
				prop := s.Properties[name]
				if prop == nil || prop.Value == nil {
					continue
				}
				subExpr := fmt.Sprintf("%s['%s']", valExpr, name)
				subChecks := propertyChecks(prop.Value, subExpr, level, depth-1)
				if slices.Contains(s.Required, name) && !prop.Value.Nullable {
					checks = append(checks,
						fmt.Sprintf("pm.expect(%s).to.not.equal(undefined);", subExpr),
						fmt.Sprintf("pm.expect(%s).to.not.equal(null);", subExpr))
					checks = append(checks, subChecks...)
				} else if len(subChecks) > 0 {
					checks = append(checks, fmt.Sprintf("if (%s !== undefined && %s !== null) { %s }", subExpr, subExpr, strings.Join(subChecks, " ")))
				}
			}
		}
	case "":
	default:
		checks = append(checks, fmt.Sprintf("pm.expect(typeof %s).to.equal('%s');", valExpr, jsTypeFor(tp)))
		if level >= StrictnessStrict && (tp == "number" || tp == "integer") {
			checks = append(checks, fmt.Sprintf("pm.expect(Number.isFinite(%s)).to.equal(true);", valExpr))
			if tp == "integer" {
				checks = append(checks, fmt.Sprintf("pm.expect(Number.isInteger(%s)).to.equal(true);", valExpr))
			}
		}
	}

	if s.MinLength > 0 {
		checks = append(checks, fmt.Sprintf("pm.expect(%s.length).to.be.at.least(%d);", valExpr, s.MinLength))
	}
	if s.MaxLength != nil && *s.MaxLength > 0 {
		checks = append(checks, fmt.Sprintf("pm.expect(%s.length).to.be.at.most(%d);", valExpr, *s.MaxLength))
	}
	if pcheck := patternCheck(s.Pattern, valExpr); pcheck != "" {
		checks = append(checks, pcheck)
	}
	if fmtCheck := formatCheck(s.Format, valExpr); fmtCheck != "" {
		checks = append(checks, fmtCheck)
	}
	if len(s.Enum) > 0 {
		checks = append(checks, fmt.Sprintf("pm.expect(%s).to.be.oneOf(%s);", valExpr, toJSArray(s.Enum)))
	}
	if s.Min != nil {
		if s.ExclusiveMin {
			checks = append(checks, fmt.Sprintf("pm.expect(%s).to.be.above(%v);", valExpr, *s.Min))
		} else {
			checks = append(checks, fmt.Sprintf("pm.expect(%s).to.be.at.least(%v);", valExpr, *s.Min))
		}
	}
	if s.Max != nil {
		if s.ExclusiveMax {
			checks = append(checks, fmt.Sprintf("pm.expect(%s).to.be.below(%v);", valExpr, *s.Max))
		} else {
			checks = append(checks, fmt.Sprintf("pm.expect(%s).to.be.at.most(%v);", valExpr, *s.Max))
		}
	}
	return checks
}

func appendArrayChecks(checks *[]string, valExpr string, s *openapi3.Schema, level StrictnessLevel, depth int) {
	if s.MinItems > 0 {
		*checks = append(*checks, fmt.Sprintf("pm.expect(%s.length).to.be.at.least(%d);", valExpr, s.MinItems))
	}
	if s.MaxItems != nil && *s.MaxItems > 0 {
		*checks = append(*checks, fmt.Sprintf("pm.expect(%s.length).to.be.at.most(%d);", valExpr, *s.MaxItems))
	}
	if s.UniqueItems {
		*checks = append(*checks, fmt.Sprintf("pm.expect(new Set(%s.map(function (it) { return JSON.stringify(it); })).size).to.equal(%s.length);", valExpr, valExpr))
	}
	if s.Items == nil || s.Items.Value == nil {
		return
	}
	switch itemType := firstType(s.Items.Value); itemType {
	case "":
	case "array":
		*checks = append(*checks, fmt.Sprintf("pm.expect(%s.every(function (it) { return Array.isArray(it); })).to.equal(true);", valExpr))
	case "object":
		if level >= StrictnessStrict {
			*checks = append(*checks, fmt.Sprintf("pm.expect(%s.every(function (it) { return typeof it === 'object' && !Array.isArray(it); })).to.equal(true);", valExpr))
		}
	default:
		*checks = append(*checks, fmt.Sprintf("pm.expect(%s.every(function (it) { return typeof it === '%s'; })).to.equal(true);", valExpr, jsTypeFor(itemType)))
	}
	if len(s.Items.Value.Enum) > 0 && level >= StrictnessStrict {
		*checks = append(*checks, fmt.Sprintf("pm.expect(%s.every(function (it) { return %s.indexOf(it) !== -1; })).to.equal(true);", valExpr, toJSArray(s.Items.Value.Enum)))
	}
	if depth > 0 && level >= StrictnessStrict {
		if nested := propertyChecks(s.Items.Value, "it", level, depth-1); len(nested) > 0 {
			*checks = append(*checks, fmt.Sprintf("%s.forEach(function (it) { %s });", valExpr, strings.Join(nested, " ")))
		}
	}
}

func variantTypeConds(refs openapi3.SchemaRefs, expr string, level StrictnessLevel, depth int) []string {
	conds := []string{}
	for _, ref := range refs {
		if ref == nil || ref.Value == nil {
			continue
		}
		if cond := variantCondition(ref.Value, expr, level, depth); cond != "" {
			conds = append(conds, cond)
		}
	}
	return conds
}

// variantCondition is a boolean JS expression that holds when expr looks
// like an instance of s. Property checks run inside a try so a mismatch
// yields false instead of failing the whole test.
func variantCondition(s *openapi3.Schema, expr string, level StrictnessLevel, depth int) string {
	parts := []string{}
	if cond := typeCondition(s, expr); cond != "" {
		parts = append(parts, cond)
	}
	if s.Discriminator != nil && s.Discriminator.PropertyName != "" {
		p := s.Discriminator.PropertyName
		parts = append(parts, fmt.Sprintf("%s && %s.hasOwnProperty('%s')", expr, expr, p))
		if len(s.Discriminator.Mapping) > 0 {
			parts = append(parts, fmt.Sprintf("%s.indexOf(%s['%s']) !== -1", toJSArrayString(sortedKeys(s.Discriminator.Mapping)), expr, p))
		}
	}
	for _, req := range s.Required {
		parts = append(parts, fmt.Sprintf("%s && %s.hasOwnProperty('%s')", expr, expr, req))
	}
	for _, name := range sortedKeys(s.Properties) {
		prop := s.Properties[name]
		if prop == nil || prop.Value == nil {
			continue
		}
		pchecks := propertyChecks(prop.Value, fmt.Sprintf("%s['%s']", expr, name), level, depth)
		if len(pchecks) > 0 {
			parts = append(parts, fmt.Sprintf("(function () { try { %s return true; } catch (e) { return false; } })()", strings.Join(pchecks, " ")))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " && ") + ")"
}

func discriminatorSwitch(s *openapi3.Schema, expr string, doc *openapi3.T, level StrictnessLevel, depth int) string {
	if s == nil || s.Discriminator == nil || s.Discriminator.PropertyName == "" || len(s.Discriminator.Mapping) == 0 {
		return ""
	}
	choices := append(openapi3.SchemaRefs{}, s.OneOf...)
	choices = append(choices, s.AnyOf...)
	if doc != nil && doc.Components != nil {
		for name, ref := range doc.Components.Schemas {
			choices = append(choices, &openapi3.SchemaRef{Ref: "#/components/schemas/" + name, Value: ref.Value})
		}
	}

	branches := []string{}
	for _, discVal := range sortedKeys(s.Discriminator.Mapping) {
		sch := findSchemaForMapping(s.Discriminator.Mapping[discVal], choices)
		checks := []string{}
		if sch != nil {
			for _, name := range sortedKeys(sch.Properties) {
				prop := sch.Properties[name]
				if prop == nil || prop.Value == nil {
					continue
				}
				if pchecks := propertyChecks(prop.Value, fmt.Sprintf("%s['%s']", expr, name), level, depth); len(pchecks) > 0 {
					checks = append(checks, fmt.Sprintf("if (%s['%s'] !== undefined) { %s }", expr, name, strings.Join(pchecks, " ")))
				}
			}
			for _, req := range sch.Required {
				checks = append(checks, fmt.Sprintf("pm.expect(%s).to.have.property('%s');", expr, req))
			}
		}
		branches = append(branches, fmt.Sprintf("case %q: %s break;", discVal, strings.Join(checks, " ")))
	}
	p := s.Discriminator.PropertyName
	return fmt.Sprintf("switch (%s['%s']) { %s default: pm.expect(%s['%s']).to.be.oneOf(%s); }",
		expr, p, strings.Join(branches, " "), expr, p, toJSArrayString(sortedKeys(s.Discriminator.Mapping)))
}

func findSchemaForMapping(ref string, choices openapi3.SchemaRefs) *openapi3.Schema {
	for _, c := range choices {
		if c.Ref != "" && (c.Ref == ref || strings.HasSuffix(c.Ref, ref)) {
			return c.Value
		}
	}
	return nil
}

func typeCondition(s *openapi3.Schema, expr string) string {
	switch firstType(s) {
	case "array":
		return fmt.Sprintf("Array.isArray(%s)", expr)
	case "object":
		return fmt.Sprintf("typeof %s === 'object' && !Array.isArray(%s)", expr, expr)
	case "integer", "number":
		return fmt.Sprintf("typeof %s === 'number'", expr)
	case "boolean":
		return fmt.Sprintf("typeof %s === 'boolean'", expr)
	case "string":
		return fmt.Sprintf("typeof %s === 'string'", expr)
	}
	if len(s.Properties) > 0 || len(s.Required) > 0 {
		return fmt.Sprintf("typeof %s === 'object' && !Array.isArray(%s)", expr, expr)
	}
	return ""
}

func formatCheck(format, valExpr string) string {
	re := ""
	switch strings.ToLower(format) {
	case "email":
		re = `^[^@\s]+@[^@\s]+\.[^@\s]+$`
	case "uuid":
		re = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`
	case "ipv4":
		re = `^(25[0-5]|2[0-4]\d|[01]?\d?\d)(\.(25[0-5]|2[0-4]\d|[01]?\d?\d)){3}$`
	case "ipv6":
		re = `^([0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}$`
	case "cidr":
		re = `^(?:\d{1,3}\.){3}\d{1,3}\/(?:[0-9]|[12]\d|3[0-2])$`
	case "byte":
		re = `^(?:[A-Za-z0-9+\/]{4})*(?:[A-Za-z0-9+\/]{2}==|[A-Za-z0-9+\/]{3}=)?$`
	case "date":
		re = `^\d{4}-\d{2}-\d{2}$`
	case "date-time":
		return fmt.Sprintf("pm.expect(isNaN(Date.parse(%s))).to.equal(false);", valExpr)
	default:
		return ""
	}
	return fmt.Sprintf("pm.expect(%s).to.match(/%s/);", valExpr, re)
}

func patternCheck(pattern, valExpr string) string {
	if pattern == "" || len(pattern) > 512 || complexRegex(pattern) {
		return ""
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return ""
	}
	return fmt.Sprintf("pm.expect(new RegExp(%s).test(%s)).to.equal(true);", strconv.Quote(pattern), valExpr)
}

// complexRegex is a cheap heuristic for patterns likely to backtrack badly.
func complexRegex(pattern string) bool {
	depth, maxDepth, quantifiers, lookbehinds := 0, 0, 0, 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '(':
			depth++
			maxDepth = max(maxDepth, depth)
			if i+3 < len(pattern) && pattern[i+1] == '?' && (pattern[i+2] == '<' || pattern[i+2] == 'P') {
				lookbehinds++
			}
		case ')':
			if depth > 0 {
				depth--
			}
		case '*', '+', '?':
			quantifiers++
		}
	}
	quantifiers += strings.Count(pattern, "{")
	return maxDepth > 5 || quantifiers > 30 || lookbehinds > 0
}

func isType(s *openapi3.Schema, want string) bool {
	if s == nil || s.Type == nil {
		return false
	}
	return slices.Contains(*s.Type, want)
}

func jsTypeFor(openapiType string) string {
	switch openapiType {
	case "integer", "number":
		return "number"
	case "boolean":
		return "boolean"
	case "array", "object":
		return "object"
	default:
		return "string"
	}
}

// checkJS parses the generated script with goja.
func checkJS(lines []string) error {
	_, err := goja.Parse("generated.js", strings.Join(lines, "\n"))
	return err
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toJSArray(vals []any) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		switch vv := v.(type) {
		case string:
			parts = append(parts, strconv.Quote(vv))
		case nil:
			parts = append(parts, "null")
		default:
			parts = append(parts, fmt.Sprint(vv))
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func toJSArrayString(vals []string) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, strconv.Quote(v))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
