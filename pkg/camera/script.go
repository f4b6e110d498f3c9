package camera

import (
	"fmt"
	"strings"
	"time"

	"github.com/openchdk/gochdk/pkg/chdk"
	"github.com/openchdk/gochdk/pkg/luaval"
)

// All remote source dispatched to the camera is produced in this file.

const srcSwitchMode = `
switch_mode_usb(%d)
local i = 0
while (get_mode() and 1 or 0) ~= %d and i < 300 do
	sleep(10)
	i = i + 1
end
if (get_mode() and 1 or 0) ~= %d then
	return false, 'switch failed'
end
return true, ""
`

// Preloadable remote libraries, keyed by the names callers pass in
// ExecOptions.Libs. Kept minimal: serialization of structured returns
// and the two capture entry points.
var rlibs = map[string]string{
	"serialize_msgs": `
serialize_r = function(v, seen)
	local t = type(v)
	if t == 'nil' or t == 'boolean' or t == 'number' then
		return tostring(v)
	elseif t == 'string' then
		return string.format('%q', v)
	elseif t == 'table' then
		if seen[v] then error('serialize: cycle') end
		seen[v] = true
		local r = '{'
		for k, val in pairs(v) do
			r = r .. '[' .. serialize_r(k, seen) .. ']=' .. serialize_r(val, seen) .. ','
		end
		return r .. '}'
	end
	error('serialize: unsupported type ' .. t)
end
serialize = function(v)
	return serialize_r(v, {})
end
`,
	"rlib_shoot": `
rlib_shoot = function(opts)
	if opts.sd then set_focus(opts.sd) end
	if opts.av then set_av96(opts.av) end
	if opts.tv then set_tv96(opts.tv) end
	if opts.sv then set_sv96(opts.sv) end
	if opts.svm then set_sv96(sv96_market_to_real(opts.svm)) end
	if opts.isomode then set_iso_mode(opts.isomode) end
	if opts.nd then set_nd_filter(opts.nd) end
	if opts.raw then set_raw(opts.raw) end
	shoot()
	if opts.info then
		return { dir = get_image_dir(), exp = get_exp_count() }
	end
end
`,
	"rs_shoot_init": `
rs_init = function(opts)
	local rec = get_mode()
	if not rec then
		return false, 'not in rec mode'
	end
	init_usb_capture(opts.fformat, 0, 0)
	return true
end
`,
	"rs_shoot": `
rs_shoot = function(opts)
	if opts.sd then set_focus(opts.sd) end
	if opts.av then set_av96(opts.av) end
	if opts.tv then set_tv96(opts.tv) end
	if opts.sv then set_sv96(opts.sv) end
	if opts.svm then set_sv96(sv96_market_to_real(opts.svm)) end
	if opts.isomode then set_iso_mode(opts.isomode) end
	if opts.nd then set_nd_filter(opts.nd) end
	shoot()
end
`,
}

type ExecOptions struct {
	// NoWait starts the script and returns immediately, error
	// detection is deferred to later message reads.
	NoWait bool
	// NoReturn skips the explicit-return precondition and discards
	// return values.
	NoReturn bool
	// Libs names remote libraries to prepend to the source.
	Libs []string
}

func quote(s string) string {
	return luaval.Marshal(luaval.NewString(s))
}

// Execute runs source on the camera. With the default options it
// blocks until completion, drains the script's messages and returns
// its return values. Remote failures surface as *ScriptError or
// *PTPError.
func (d *Device) Execute(source string, opts *ExecOptions) ([]luaval.Value, error) {
	if opts == nil {
		opts = &ExecOptions{}
	}
	if d.conn == nil {
		return nil, ErrNotConnected
	}

	if !opts.NoWait && !opts.NoReturn && !strings.Contains(source, "return") {
		// a single expression can be promoted, a multi-statement
		// script cannot: fail before wasting a device round-trip
		if !strings.Contains(strings.TrimSuffix(source, ";"), ";") && !strings.Contains(source, "\n") {
			source = "return " + source
		} else {
			return nil, fmt.Errorf("%w: source does not return a value", ErrValidation)
		}
	}

	var sb strings.Builder
	for _, lib := range opts.Libs {
		src, ok := rlibs[lib]
		if !ok {
			return nil, fmt.Errorf("%w: unknown remote library %q", ErrValidation, lib)
		}
		sb.WriteString(src)
	}
	sb.WriteString(source)

	id, errType, err := d.conn.ExecScript(sb.String())
	if err != nil {
		return nil, d.wrapConnErr(err)
	}
	d.lastScriptID = id
	d.Log.Trace().Int32("script", id).Msg("script started")

	if errType != chdk.ScriptErrNone {
		// compile failure, the details arrive as an error message
		msgs, _ := d.Messages()
		for _, m := range msgs {
			if m.Type == MessageError {
				return nil, m.Err
			}
		}
		return nil, &ScriptError{Msg: fmt.Sprintf("script error %d", errType)}
	}

	if opts.NoWait {
		return nil, nil
	}

	rets, err := d.waitScript(id)
	if err != nil {
		return nil, err
	}
	if opts.NoReturn {
		return nil, nil
	}
	return rets, nil
}

// waitScript blocks until no script runs, collecting messages as they
// arrive. Completion of a remote script is device-paced, so unlike the
// state confirmation polls this one has no attempt ceiling.
func (d *Device) waitScript(id int32) ([]luaval.Value, error) {
	var rets []luaval.Value
	var scriptErr error

	for {
		run, msg, err := d.conn.Status()
		if err != nil {
			return nil, d.wrapConnErr(err)
		}

		if msg {
			msgs, err := d.Messages()
			if err != nil {
				return nil, err
			}
			for _, m := range msgs {
				switch m.Type {
				case MessageReturn:
					rets = append(rets, m.Value)
				case MessageUser:
					d.Log.Info().Int32("script", m.ScriptID).Str("msg", m.Value.String()).Msg("script message")
				case MessageError:
					if scriptErr == nil {
						scriptErr = m.Err
					}
				}
			}
		}

		if !run && !msg {
			break
		}
		if run {
			time.Sleep(waitPollInterval)
		}
	}

	if scriptErr != nil {
		return nil, scriptErr
	}
	return rets, nil
}

// KillScripts force-terminates whatever runs on the camera. With flush
// any buffered messages are discarded instead of left for the caller.
func (d *Device) KillScripts(flush bool) error {
	if d.conn == nil {
		return ErrNotConnected
	}
	if flush {
		if _, err := d.Messages(); err != nil {
			return err
		}
	}

	// an empty script clobbers the running one
	if _, _, err := d.conn.ExecScript(""); err != nil {
		return d.wrapConnErr(err)
	}

	err := pollUntil(pollInterval, pollAttempts, func() (bool, error) {
		run, _, err := d.conn.Status()
		if err != nil {
			return false, d.wrapConnErr(err)
		}
		return !run, nil
	})
	if err != nil {
		return err
	}

	if flush {
		_, err = d.Messages()
	}
	return err
}
