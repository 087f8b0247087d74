package sip

import (
	"bufio"
	"strconv"
	"strings"
	"time"
)

// dialog state codes reported by the dialog module
var dialogStates = map[string]string{
	"1": "unconfirmed",
	"2": "early",
	"3": "answered",
	"4": "active",
	"5": "deleted",
}

// ParseDialogList reads `fifo dlg_list` output. Each dialog begins with a
// "dialog::" line followed by indented "key:: value" attributes.
func ParseDialogList(out string, now time.Time) []Dialog {
	var (
		dialogs []Dialog
		cur     *Dialog
		started int64
	)
	flush := func() {
		if cur == nil {
			return
		}
		if started > 0 {
			if d := now.Unix() - started; d > 0 {
				cur.DurationSeconds = d
			}
		}
		dialogs = append(dialogs, *cur)
		cur = nil
		started = 0
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, val, ok := strings.Cut(line, "::")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		if key == "dialog" {
			flush()
			cur = &Dialog{}
			continue
		}
		if cur == nil {
			continue
		}
		switch key {
		case "callid":
			cur.CallID = val
		case "from_uri":
			cur.From = val
		case "to_uri":
			cur.To = val
		case "state":
			if s, ok := dialogStates[val]; ok {
				cur.State = s
			} else {
				cur.State = val
			}
		case "timestart":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				started = n
			}
		}
	}
	flush()
	return dialogs
}
