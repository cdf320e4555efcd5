// Package shader turns user-supplied fragment shaders into GPU programs that
// render into an offscreen color buffer every frame.
//
// Two source dialects are accepted. The main-image dialect supplies a
// mainImage(out vec4, in vec2) function and reads iTime, iResolution and
// iMouse. The ISF dialect starts with a /*{ JSON }*/ header declaring typed
// INPUTS and writes gl_FragColor from its own main, using TIME, RENDERSIZE
// and isf_FragNormCoord.
package shader

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Dialect identifies the convention a shader source is written in.
type Dialect string

const (
	DialectMainImage Dialect = "main-image"
	DialectISF       Dialect = "isf"
)

// InputType is the declared type of an ISF input.
type InputType string

const (
	InputFloat   InputType = "float"
	InputBool    InputType = "bool"
	InputInt     InputType = "int"
	InputColor   InputType = "color"
	InputPoint2D InputType = "point2D"
)

// glslType maps an ISF input type to its uniform declaration type.
func (t InputType) glslType() string {
	switch t {
	case InputBool:
		return "bool"
	case InputInt:
		return "int"
	case InputColor:
		return "vec4"
	case InputPoint2D:
		return "vec2"
	default:
		return "float"
	}
}

// Input is one entry of an ISF header's INPUTS list.
type Input struct {
	Name    string    `json:"NAME"`
	Type    InputType `json:"TYPE"`
	Label   string    `json:"LABEL,omitempty"`
	Default any       `json:"DEFAULT,omitempty"`
	Min     any       `json:"MIN,omitempty"`
	Max     any       `json:"MAX,omitempty"`
}

// isfHeader is the subset of the ISF JSON header the loader understands.
type isfHeader struct {
	Description string  `json:"DESCRIPTION"`
	Credit      string  `json:"CREDIT"`
	Inputs      []Input `json:"INPUTS"`
}

// Source is a shader ready to be compiled.
type Source struct {
	Dialect     Dialect
	Description string
	Inputs      []Input
	// Body is the user code after snippet extraction and symbol translation.
	Body string
	// Fragment is the complete fragment stage handed to the driver.
	Fragment string
}

// Uniform names shared by both dialects.
const (
	UniformTime       = "iTime"
	UniformResolution = "iResolution"
	UniformMouse      = "iMouse"
)

// VertexShader draws a full-viewport quad and passes normalized coordinates.
const VertexShader = `#version 330 core
layout(location = 0) in vec2 aPosition;
out vec2 vUv;

void main() {
  vUv = aPosition * 0.5 + 0.5;
  gl_Position = vec4(aPosition, 0.0, 1.0);
}
`

const fragmentPreamble = `#version 330 core
precision highp float;

uniform float iTime;
uniform vec3 iResolution;
uniform vec4 iMouse;

in vec2 vUv;
out vec4 vizmixFragColor;
`

const mainImagePostlude = `

void main() {
  vec2 fragCoord = vUv * iResolution.xy;
  mainImage(vizmixFragColor, fragCoord);
}
`

var (
	snippetPattern   = regexp.MustCompile("const\\s+shader\\s*=\\s*`([\\s\\S]*?)`;")
	isfHeaderPattern = regexp.MustCompile(`(?m)/\*\{([\s\S]*?)\}\*/`)

	isfRewrites = []rewriteRule{
		{regexp.MustCompile(`\bisf_FragNormCoord\b`), "(gl_FragCoord.xy / iResolution.xy)"},
		{regexp.MustCompile(`\bRENDERSIZE\b`), "iResolution.xy"},
		{regexp.MustCompile(`\bTIME\b`), "iTime"},
	}

	// Legacy GLSL spellings translated for the 3.30 core profile.
	legacyRewrites = []rewriteRule{
		{regexp.MustCompile(`\bgl_FragColor\b`), "vizmixFragColor"},
		{regexp.MustCompile(`\btexture2D\b`), "texture"},
		{regexp.MustCompile(`\bvarying\b`), "in"},
	}
)

// Prepare detects the dialect of raw and builds the complete fragment stage.
// Sources wrapped in a JavaScript `const shader = ` snippet are unwrapped first.
// An ISF header that is not valid JSON is ignored and the source is treated
// as the main-image dialect.
func Prepare(raw string) (*Source, error) {
	code := raw
	if m := snippetPattern.FindStringSubmatch(raw); m != nil {
		code = m[1]
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("shader source is empty")
	}

	if m := isfHeaderPattern.FindStringSubmatchIndex(code); m != nil {
		var header isfHeader
		if err := json.Unmarshal([]byte("{"+code[m[2]:m[3]]+"}"), &header); err == nil {
			body := strings.TrimSpace(code[:m[0]] + code[m[1]:])
			return prepareISF(body, header), nil
		}
	}

	body := rewrite(code, legacyRewrites)
	return &Source{
		Dialect:  DialectMainImage,
		Body:     body,
		Fragment: fragmentPreamble + body + mainImagePostlude,
	}, nil
}

func prepareISF(body string, header isfHeader) *Source {
	body = rewrite(body, isfRewrites)
	body = rewrite(body, legacyRewrites)

	var decls strings.Builder
	for _, in := range header.Inputs {
		if in.Name == "" {
			continue
		}
		fmt.Fprintf(&decls, "uniform %s %s;\n", in.Type.glslType(), in.Name)
	}

	return &Source{
		Dialect:     DialectISF,
		Description: header.Description,
		Inputs:      header.Inputs,
		Body:        body,
		Fragment:    fragmentPreamble + decls.String() + "\n" + body + "\n",
	}
}

type rewriteRule struct {
	pattern *regexp.Regexp
	replace string
}

func rewrite(code string, rules []rewriteRule) string {
	for _, r := range rules {
		code = r.pattern.ReplaceAllString(code, r.replace)
	}
	return code
}

// Input returns the declared input with the given name.
func (s *Source) Input(name string) (Input, bool) {
	for _, in := range s.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// defaultValues converts an input's DEFAULT into uniform components.
// ok is false when the input has no usable default.
func (in Input) defaultValues() (floats []float32, integer int32, isInt bool, ok bool) {
	switch in.Type {
	case InputBool:
		switch v := in.Default.(type) {
		case bool:
			if v {
				return nil, 1, true, true
			}
			return nil, 0, true, true
		case float64:
			if v != 0 {
				return nil, 1, true, true
			}
			return nil, 0, true, true
		}
	case InputInt:
		if v, isNum := in.Default.(float64); isNum {
			return nil, int32(v), true, true
		}
	case InputColor, InputPoint2D:
		arr, isArr := in.Default.([]any)
		if !isArr {
			return nil, 0, false, false
		}
		want := 4
		if in.Type == InputPoint2D {
			want = 2
		}
		if len(arr) < want {
			return nil, 0, false, false
		}
		for _, c := range arr[:want] {
			f, isNum := c.(float64)
			if !isNum {
				return nil, 0, false, false
			}
			floats = append(floats, float32(f))
		}
		return floats, 0, false, true
	default:
		if v, isNum := in.Default.(float64); isNum {
			return []float32{float32(v)}, 0, false, true
		}
	}
	return nil, 0, false, false
}
