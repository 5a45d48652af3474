package browser

import (
	"fmt"
	"strings"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
	"github.com/nbenliogludev/go-page-pilot/internal/page"
)

// scriptVars fills the {{NAME}} placeholders shared by the page scripts.
var scriptVars = strings.NewReplacer(
	"{{ID_ATTR}}", page.IDAttr,
	"{{EPOCH_ATTR}}", page.EpochAttr,
	"{{MAX_TEXT}}", fmt.Sprint(page.MaxTextChars),
	"{{MAX_ELEMENTS}}", fmt.Sprint(page.MaxElements),
	"{{MAX_HEADINGS}}", fmt.Sprint(page.MaxHeadings),
	"{{MAX_LABEL}}", fmt.Sprint(page.MaxLabelChars),
	"{{MAX_NODES}}", fmt.Sprint(page.MaxTextNodes),
)

// extractScript marks visible inputs then labelled clickables with the
// epoch's ids. Returns null when the document has no body yet.
const extractScript = `(() => {
  const ID = "{{ID_ATTR}}", EPOCH = "{{EPOCH_ATTR}}";
  document.querySelectorAll("[" + ID + "]").forEach(el => {
    el.removeAttribute(ID);
    el.removeAttribute(EPOCH);
  });
  if (!document.body) return null;

  const epoch = String({{EPOCH}});
  const clip = (s, n) => (s || "").substring(0, n);
  const items = [];
  const mark = (el, label, kind, source) => {
    const id = items.length + 1;
    el.setAttribute(ID, String(id));
    el.setAttribute(EPOCH, epoch);
    items.push({ id, label, kind, source });
  };

  document.querySelectorAll('input:not([type="hidden"]), textarea, select').forEach(el => {
    if (items.length >= {{MAX_ELEMENTS}} || el.offsetParent === null) return;
    const label = el.placeholder || el.name || el.id || el.value || el.getAttribute("aria-label") || "input";
    mark(el, clip(label, {{MAX_LABEL}}), el.type || el.tagName.toLowerCase(), "input");
  });

  document.querySelectorAll('button, a, [role="button"]').forEach(el => {
    if (items.length >= {{MAX_ELEMENTS}} || el.offsetParent === null || el.hasAttribute(ID)) return;
    const label = clip((el.innerText || el.value || el.getAttribute("aria-label") || "").trim(), {{MAX_LABEL}});
    if (label) mark(el, label, el.tagName.toLowerCase(), "clickable");
  });

  const headings = Array.from(document.querySelectorAll("h1, h2, h3"))
    .slice(0, {{MAX_HEADINGS}})
    .map(h => h.innerText.trim())
    .filter(Boolean);

  return {
    title: document.title,
    text: clip(document.body.innerText, {{MAX_TEXT}}),
    interactable: items,
    headings: [...new Set(headings)],
  };
})()`

// executeScript applies CLICK, TYPE or SCROLL. Elements resolve only
// through markers carrying the given epoch.
const executeScript = `(async () => {
  const a = {{ACTION}};
  const sleep = ms => new Promise(r => setTimeout(r, ms));

  if (a.action === "SCROLL") {
    const dy = window.innerHeight * 0.8;
    window.scrollBy({ top: a.direction === "UP" ? -dy : dy, behavior: "smooth" });
    await sleep(500);
    return { resolved: true };
  }

  const el = document.querySelector('[{{ID_ATTR}}="' + a.elementId + '"][{{EPOCH_ATTR}}="{{EPOCH}}"]');
  if (!el) return { resolved: false, skipped: "element " + a.elementId + " not found" };
  el.scrollIntoView({ behavior: "smooth", block: "center" });

  if (a.action === "CLICK") {
    await sleep(500);
    el.click();
    return { resolved: true };
  }

  if (a.action === "TYPE") {
    await sleep(300);
    el.focus();
    const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
    const setter = Object.getOwnPropertyDescriptor(proto, "value")?.set;
    if (setter && (el instanceof HTMLInputElement || el instanceof HTMLTextAreaElement)) {
      setter.call(el, a.text);
    } else {
      el.value = a.text;
    }
    el.dispatchEvent(new Event("input", { bubbles: true }));
    el.dispatchEvent(new Event("change", { bubbles: true }));
    const enter = { key: "Enter", code: "Enter", keyCode: 13, which: 13, bubbles: true };
    el.dispatchEvent(new KeyboardEvent("keydown", enter));
    el.dispatchEvent(new KeyboardEvent("keyup", enter));
    return { resolved: true };
  }

  return { resolved: false, skipped: "unsupported action " + a.action };
})()`

const revertJS = `(() => {
  for (const r of (window.__pilotOverlay || [])) {
    if (r.node) r.node.nodeValue = r.original;
  }
  window.__pilotOverlay = [];
})();`

// textNodesScript reverts the previous session, then records translatable
// text nodes under body.
const textNodesScript = `(() => {` + revertJS + `
  if (!document.body) return [];
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT, {
    acceptNode(node) {
      const tag = node.parentElement ? node.parentElement.tagName.toLowerCase() : "";
      if (tag === "script" || tag === "style" || tag === "noscript") return NodeFilter.FILTER_REJECT;
      if (!node.nodeValue.trim()) return NodeFilter.FILTER_REJECT;
      return NodeFilter.FILTER_ACCEPT;
    },
  });
  const texts = [];
  let node;
  while (texts.length < {{MAX_NODES}} && (node = walker.nextNode())) {
    const text = node.nodeValue.trim();
    if (text.length > 1) {
      window.__pilotOverlay.push({ node, original: node.nodeValue });
      texts.push(text);
    }
  }
  return texts;
})()`

const injectScript = `((texts) => {
  const records = window.__pilotOverlay || [];
  for (let i = 0; i < Math.min(records.length, texts.length); i++) {
    const { node, original } = records[i];
    node.nodeValue = original.match(/^\s*/)[0] + texts[i] + original.match(/\s*$/)[0];
  }
  return true;
})({{TEXTS}})`

const revertScript = `(() => {` + revertJS + ` return true; })()`

func renderExtract(epoch page.Epoch) string {
	return strings.ReplaceAll(scriptVars.Replace(extractScript), "{{EPOCH}}", fmt.Sprint(uint64(epoch)))
}

func renderExecute(epoch page.Epoch, a llm.Action) string {
	s := scriptVars.Replace(executeScript)
	s = strings.ReplaceAll(s, "{{EPOCH}}", fmt.Sprint(uint64(epoch)))
	return strings.ReplaceAll(s, "{{ACTION}}", jsonEncode(struct {
		Action    llm.ActionKind `json:"action"`
		ElementID int            `json:"elementId"`
		Direction string         `json:"direction"`
		Text      string         `json:"text"`
	}{a.Kind, a.ElementID, a.ScrollDirection(), a.Text}))
}

func renderTextNodes() string {
	return scriptVars.Replace(textNodesScript)
}

func renderInject(texts []string) string {
	if texts == nil {
		texts = []string{}
	}
	return strings.ReplaceAll(injectScript, "{{TEXTS}}", jsonEncode(texts))
}
