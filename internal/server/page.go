package server

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/fragment/internal/preview"
	"github.com/conneroisu/fragment/internal/renderer"
)

type pageData struct {
	Backend   renderer.Kind
	Instances []preview.Instance
	Overlay   string
	Version   string
	Live      bool
}

// BackendLabel is the display name of a backend kind.
func BackendLabel(k renderer.Kind) string {
	name := k.String()
	if len(name) <= 3 {
		return cases.Upper(language.English).String(name)
	}
	return cases.Title(language.English).String(name)
}

const pageStyle = `body{margin:0;padding:20px;background:#1a202c;color:#e2e8f0;font-family:system-ui,-apple-system,sans-serif}
h1{margin:0 0 4px;font-size:20px}
.meta{color:#a0aec0;font-size:12px;margin-bottom:20px}
.previews{display:grid;grid-template-columns:repeat(auto-fill,minmax(320px,1fr));gap:20px}
.preview{background:#2d3748;border-radius:6px;padding:12px}
.preview img{display:block;width:100%;height:auto;background:#000;image-rendering:pixelated}
.preview .name{font-weight:bold;margin-bottom:8px}
.preview .geometry{color:#a0aec0;font-size:12px;margin-top:8px}
.status{position:fixed;top:16px;right:16px;padding:6px 12px;border-radius:4px;font-size:12px;font-weight:bold}
.status.connected{background:#38a169}
.status.disconnected{background:#e53e3e}`

const liveScript = `(function(){
  function refresh(){
    document.querySelectorAll('img[data-preview]').forEach(function(img){
      img.src = '/previews/' + img.dataset.preview + '.png?t=' + Date.now();
    });
  }
  function overlay(){
    fetch('/overlay').then(function(r){ return r.text(); }).then(function(html){
      document.getElementById('overlay').innerHTML = html;
    });
  }
  var status = document.getElementById('status');
  function connect(){
    var ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
    ws.onopen = function(){ status.className = 'status connected'; status.textContent = 'Live'; };
    ws.onclose = function(){ status.className = 'status disconnected'; status.textContent = 'Disconnected'; setTimeout(connect, 1000); };
    ws.onmessage = function(ev){
      var msg = JSON.parse(ev.data);
      switch (msg.type) {
      case 'sketch-update':
      case 'preview':
        location.reload();
        break;
      case 'compile-error':
      case 'compile-clear':
        overlay();
        break;
      default:
        refresh();
      }
    };
  }
  connect();
  setInterval(refresh, 500);
})();`

func indexPage(d pageData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder

		b.WriteString("<!DOCTYPE html>\n<html lang=\"en\"><head><meta charset=\"utf-8\">")
		b.WriteString("<title>fragment</title><style>")
		b.WriteString(pageStyle)
		b.WriteString("</style></head><body>")

		fmt.Fprintf(&b, `<h1>fragment</h1><div class="meta">%s backend · %d preview(s) · %s</div>`,
			templ.EscapeString(BackendLabel(d.Backend)), len(d.Instances), templ.EscapeString(d.Version))
		if d.Live {
			b.WriteString(`<div id="status" class="status disconnected">Connecting</div>`)
		}

		b.WriteString(`<div class="previews">`)
		for _, inst := range d.Instances {
			id := templ.EscapeString(inst.ID)
			fmt.Fprintf(&b, `<div class="preview" id="%s"><div class="name">%s</div>`, id, id)
			fmt.Fprintf(&b, `<img data-preview="%s" src="/previews/%s.png" alt="%s" width="%d" height="%d">`,
				id, id, id, inst.Width, inst.Height)
			fmt.Fprintf(&b, `<div class="geometry">%s · %dx%d @%gx · backing %dx%d</div></div>`,
				templ.EscapeString(BackendLabel(inst.Kind)),
				inst.Width, inst.Height, inst.PixelDensity, inst.BackingWidth, inst.BackingHeight)
		}
		b.WriteString(`</div>`)

		b.WriteString(`<div id="overlay">`)
		b.WriteString(d.Overlay)
		b.WriteString(`</div>`)

		if d.Live {
			b.WriteString("<script>")
			b.WriteString(liveScript)
			b.WriteString("</script>")
		}
		b.WriteString("</body></html>")

		_, err := io.WriteString(w, b.String())
		return err
	})
}
