//go:build !headless

package gpu

import (
	"fmt"
	"image"
	"log"
	"strings"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// glDevice renders through an OpenGL 3.3 core context owned by a hidden window.
type glDevice struct {
	window *glfw.Window
}

// NewDevice creates the offscreen GL context. The context is detached from
// the calling thread; the render goroutine attaches it with Bind.
func NewDevice() (Device, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize glfw: %w", err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 3)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	window, err := glfw.CreateWindow(1, 1, "vizmix-offscreen", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("failed to create offscreen context: %w", err)
	}

	window.MakeContextCurrent()
	if err := gl.Init(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	log.Printf("GPU: OpenGL %s", gl.GoStr(gl.GetString(gl.VERSION)))
	glfw.DetachCurrentContext()

	return &glDevice{window: window}, nil
}

func (d *glDevice) Bind() error {
	d.window.MakeContextCurrent()
	return nil
}

func (d *glDevice) CompileProgram(vertexSrc, fragmentSrc string) (Program, error) {
	vs, err := compileStage(vertexSrc, gl.VERTEX_SHADER, StageVertex)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(vs)

	fs, err := compileStage(fragmentSrc, gl.FRAGMENT_SHADER, StageFragment)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(fs)

	id := gl.CreateProgram()
	gl.AttachShader(id, vs)
	gl.AttachShader(id, fs)
	gl.LinkProgram(id)

	var status int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &logLength)
		infoLog := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(id, logLength, nil, gl.Str(infoLog))
		gl.DeleteProgram(id)
		return nil, &CompileError{Stage: StageLink, Log: strings.TrimRight(infoLog, "\x00")}
	}

	return &glProgram{id: id, locations: make(map[string]int32)}, nil
}

func compileStage(src string, kind uint32, stage Stage) (uint32, error) {
	shader := gl.CreateShader(kind)
	csources, free := gl.Strs(src + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		infoLog := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(infoLog))
		gl.DeleteShader(shader)
		return 0, &CompileError{Stage: stage, Log: strings.TrimRight(infoLog, "\x00")}
	}
	return shader, nil
}

func (d *glDevice) NewRenderTarget(width, height int) (RenderTarget, error) {
	rt := &glRenderTarget{width: width, height: height}

	gl.GenTextures(1, &rt.texture)
	gl.BindTexture(gl.TEXTURE_2D, rt.texture)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)

	gl.GenFramebuffers(1, &rt.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, rt.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, rt.texture, 0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)

	if status != gl.FRAMEBUFFER_COMPLETE {
		rt.Release()
		return nil, fmt.Errorf("gpu: render target %dx%d incomplete (0x%x)", width, height, status)
	}
	return rt, nil
}

func (d *glDevice) NewQuad() (Quad, error) {
	positions := []float32{
		-1, -1,
		1, -1,
		-1, 1,
		1, 1,
	}

	q := &glQuad{}
	gl.GenVertexArrays(1, &q.vao)
	gl.BindVertexArray(q.vao)
	gl.GenBuffers(1, &q.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, q.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(positions)*4, gl.Ptr(positions), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(0, 2, gl.FLOAT, false, 0, 0)
	gl.BindVertexArray(0)
	return q, nil
}

func (d *glDevice) Draw(target RenderTarget, prog Program, quad Quad, clearColor [4]float32) error {
	rt, ok := target.(*glRenderTarget)
	if !ok || rt.fbo == 0 {
		return fmt.Errorf("gpu: invalid render target")
	}
	p, ok := prog.(*glProgram)
	if !ok || p.id == 0 {
		return fmt.Errorf("gpu: invalid program")
	}
	q, ok := quad.(*glQuad)
	if !ok || q.vao == 0 {
		return fmt.Errorf("gpu: invalid quad")
	}

	gl.BindFramebuffer(gl.FRAMEBUFFER, rt.fbo)
	gl.Viewport(0, 0, int32(rt.width), int32(rt.height))
	gl.Disable(gl.BLEND)
	gl.Disable(gl.DEPTH_TEST)
	gl.ClearColor(clearColor[0], clearColor[1], clearColor[2], clearColor[3])
	gl.Clear(gl.COLOR_BUFFER_BIT)

	gl.UseProgram(p.id)
	gl.BindVertexArray(q.vao)
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)
	gl.BindVertexArray(0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)

	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("gpu: draw failed (0x%x)", code)
	}
	return nil
}

func (d *glDevice) Close() error {
	if d.window != nil {
		d.window.Destroy()
		d.window = nil
		glfw.Terminate()
	}
	return nil
}

type glProgram struct {
	id        uint32
	locations map[string]int32
}

func (p *glProgram) location(name string) int32 {
	if loc, ok := p.locations[name]; ok {
		return loc
	}
	loc := gl.GetUniformLocation(p.id, gl.Str(name+"\x00"))
	p.locations[name] = loc
	return loc
}

func (p *glProgram) SetFloat(name string, v ...float32) {
	if p.id == 0 {
		return
	}
	loc := p.location(name)
	if loc < 0 {
		return
	}
	gl.UseProgram(p.id)
	switch len(v) {
	case 1:
		gl.Uniform1f(loc, v[0])
	case 2:
		gl.Uniform2f(loc, v[0], v[1])
	case 3:
		gl.Uniform3f(loc, v[0], v[1], v[2])
	case 4:
		gl.Uniform4f(loc, v[0], v[1], v[2], v[3])
	}
}

func (p *glProgram) SetInt(name string, v int32) {
	if p.id == 0 {
		return
	}
	loc := p.location(name)
	if loc < 0 {
		return
	}
	gl.UseProgram(p.id)
	gl.Uniform1i(loc, v)
}

func (p *glProgram) Release() {
	if p.id != 0 {
		gl.DeleteProgram(p.id)
		p.id = 0
	}
}

type glRenderTarget struct {
	fbo     uint32
	texture uint32
	width   int
	height  int
}

func (rt *glRenderTarget) Size() (int, int) { return rt.width, rt.height }

func (rt *glRenderTarget) Read(dst *image.RGBA) error {
	if rt.fbo == 0 {
		return fmt.Errorf("gpu: render target released")
	}
	if dst.Bounds().Dx() != rt.width || dst.Bounds().Dy() != rt.height {
		return fmt.Errorf("gpu: read into %v, target is %dx%d", dst.Bounds(), rt.width, rt.height)
	}

	gl.BindFramebuffer(gl.FRAMEBUFFER, rt.fbo)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, int32(rt.width), int32(rt.height), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(dst.Pix))
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)

	// GL rows start at the bottom
	stride := dst.Stride
	row := make([]byte, stride)
	for top, bottom := 0, rt.height-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := dst.Pix[top*stride : top*stride+stride]
		b := dst.Pix[bottom*stride : bottom*stride+stride]
		copy(row, a)
		copy(a, b)
		copy(b, row)
	}
	return nil
}

func (rt *glRenderTarget) Release() {
	if rt.fbo != 0 {
		gl.DeleteFramebuffers(1, &rt.fbo)
		rt.fbo = 0
	}
	if rt.texture != 0 {
		gl.DeleteTextures(1, &rt.texture)
		rt.texture = 0
	}
}

type glQuad struct {
	vao uint32
	vbo uint32
}

func (q *glQuad) Release() {
	if q.vbo != 0 {
		gl.DeleteBuffers(1, &q.vbo)
		q.vbo = 0
	}
	if q.vao != 0 {
		gl.DeleteVertexArrays(1, &q.vao)
		q.vao = 0
	}
}
