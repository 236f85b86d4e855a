// Package render draws the chat page from a transcript.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/RichardoC/tabletalk/internal/models"
)

type NoticeKind string

const (
	Info  NoticeKind = "info"
	Error NoticeKind = "error"
)

type Notice struct {
	Kind NoticeKind
	Text string
}

// Sidebar selects which configuration inputs the page shows.
type Sidebar struct {
	WebsiteURL     bool
	WebsiteURLText string

	DataUpload    bool
	Accept        []string // extensions without dots
	UploadName    string
	HasCredential bool
}

type Page struct {
	Title       string
	Placeholder string
	Sidebar     Sidebar
	Notices     []Notice
	Messages    []models.Message
}

type entry struct {
	Class   string
	Author  string
	Content string
}

func author(r models.Role) (class, label string, err error) {
	switch r {
	case models.RoleUser:
		return "user", "User", nil
	case models.RoleAssistant:
		return "assistant", "AI", nil
	default:
		return "", "", fmt.Errorf("cannot render message with %v", r)
	}
}

type view struct {
	Page
	Entries []entry
	Accept  string
}

// Render writes the whole page. Nothing is written if a message cannot be
// rendered.
func Render(w io.Writer, p Page) error {
	v := view{Page: p, Entries: make([]entry, 0, len(p.Messages))}
	for _, m := range p.Messages {
		class, label, err := author(m.Role)
		if err != nil {
			return err
		}
		v.Entries = append(v.Entries, entry{Class: class, Author: label, Content: m.Content})
	}
	accept := make([]string, len(p.Sidebar.Accept))
	for i, ext := range p.Sidebar.Accept {
		accept[i] = "." + ext
	}
	v.Accept = strings.Join(accept, ",")

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, v); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 0; display: flex; min-height: 100vh; }
aside { width: 18rem; padding: 1rem; background: #f0f2f6; }
main { flex: 1; padding: 1rem 2rem; max-width: 48rem; }
.msg { padding: .75rem; margin: .5rem 0; border-radius: .5rem; white-space: pre-wrap; }
.msg.user { background: #e8f0fe; }
.msg.assistant { background: #f7f7f7; }
.author { font-weight: bold; display: block; margin-bottom: .25rem; }
.notice { padding: .75rem; border-radius: .5rem; margin: .5rem 0; }
.notice.info { background: #e6f3ff; }
.notice.error { background: #ffe6e6; }
form.chat { display: flex; gap: .5rem; margin-top: 1rem; }
form.chat input { flex: 1; }
</style>
</head>
<body>
<aside>
<h2>Configuration</h2>
{{- if .Sidebar.WebsiteURL}}
<form method="post" action="/config">
<label for="website_url">Website URL</label>
<input id="website_url" name="website_url" type="url" value="{{.Sidebar.WebsiteURLText}}">
<button type="submit">Save</button>
</form>
{{- end}}
{{- if .Sidebar.DataUpload}}
<form method="post" action="/key">
<label for="api_key">OpenAI API Key</label>
<input id="api_key" name="api_key" type="password" autocomplete="off" placeholder="{{if .Sidebar.HasCredential}}saved for this session{{end}}">
<button type="submit">Save</button>
</form>
<form method="post" action="/upload" enctype="multipart/form-data">
<label for="file">Upload a Data file</label>
<input id="file" name="file" type="file" accept="{{.Accept}}">
<button type="submit">Upload</button>
</form>
{{- if .Sidebar.UploadName}}
<p>Loaded: {{.Sidebar.UploadName}}</p>
{{- end}}
{{- end}}
<form method="post" action="/reset">
<button type="submit">New conversation</button>
</form>
</aside>
<main>
<h1>{{.Title}}</h1>
{{- range .Notices}}
<div class="notice {{.Kind}}">{{.Text}}</div>
{{- end}}
{{- range .Entries}}
<div class="msg {{.Class}}"><span class="author">{{.Author}}</span>{{.Content}}</div>
{{- end}}
<form class="chat" method="post" action="/chat">
<input name="message" placeholder="{{.Placeholder}}" autofocus>
<button type="submit">Send</button>
</form>
</main>
</body>
</html>
`))
