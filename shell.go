package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/CodedInternet/gogarden/onboard/queue"
)

// shellInstruction turns a shell command into a single instruction.
func shellInstruction(name string, args []string) (queue.Instruction, error) {
	ms := func() (time.Duration, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("usage: %s <milliseconds>", name)
		}
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * time.Millisecond, nil
	}

	switch name {
	case "move":
		if len(args) != 3 {
			return queue.Instruction{}, fmt.Errorf("usage: move <x> <y> <z>")
		}
		var pos mgl64.Vec3
		for i, arg := range args {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return queue.Instruction{}, err
			}
			pos[i] = v
		}
		return queue.Move(pos), nil
	case "home":
		return queue.Home(), nil
	case "reset":
		return queue.ResetAxes(), nil
	case "retract":
		return queue.Retract(), nil
	case "led":
		if len(args) != 1 {
			return queue.Instruction{}, fmt.Errorf("usage: led <n>")
		}
		n, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return queue.Instruction{}, err
		}
		return queue.Led(uint8(n)), nil
	}

	timed := map[string]func(time.Duration) queue.Instruction{
		"wait":   queue.Wait,
		"water":  queue.WaterWait,
		"lights": queue.LightsWait,
		"pump":   queue.PumpWait,
		"plow":   queue.Plow,
	}
	if build, ok := timed[name]; ok {
		d, err := ms()
		if err != nil {
			return queue.Instruction{}, err
		}
		return build(d), nil
	}
	return queue.Instruction{}, fmt.Errorf("unknown instruction %s", name)
}

func (s *Server) submit(ins ...queue.Instruction) (queue.ActionID, error) {
	action, err := queue.NewCommandListAction(ins)
	if err != nil {
		return 0, err
	}
	if err := s.queue.AddAction(action); err != nil {
		return 0, err
	}
	return action.ID(), nil
}

func printJSON(c *ishell.Context, v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// Shell builds the development shell. Robot commands are queued as single
// instruction actions.
func (s *Server) Shell() *ishell.Shell {
	shell := ishell.New()
	shell.Println("Garden development shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "createsuperuser",
		Help: "createsuperuser <email> <password>",
		Func: func(c *ishell.Context) {
			// disable the '>>>' for cleaner same line input.
			c.ShowPrompt(false)
			defer c.ShowPrompt(true)

			var email string
			if len(c.Args) >= 1 {
				email = c.Args[0]
			} else {
				c.Print("Email: ")
				email = c.ReadLine()
			}

			var password string
			if len(c.Args) >= 2 {
				password = c.Args[1]
			} else {
				c.Print("Password: ")
				password = c.ReadPassword()
			}

			if _, err := CreateSuperuser(s.db, email, password); err != nil {
				c.Err(err)
				return
			}
			c.Println("Superuser created")
		},
	})

	instructions := []struct{ name, help string }{
		{"move", "move <x> <y> <z> (mm)"},
		{"home", "home"},
		{"reset", "reset"},
		{"retract", "retract"},
		{"wait", "wait <ms>"},
		{"water", "water <ms>"},
		{"lights", "lights <ms>"},
		{"pump", "pump <ms>"},
		{"plow", "plow <ms>"},
		{"led", "led <n>"},
	}
	for _, in := range instructions {
		shell.AddCmd(&ishell.Cmd{
			Name: in.name,
			Help: in.help,
			Func: func(c *ishell.Context) {
				ins, err := shellInstruction(in.name, c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				id, err := s.submit(ins)
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("Queued action %d\n", id)
			},
		})
	}

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "Reads the current state of the robot",
		Func: func(c *ishell.Context) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.device.Refresh(ctx); err != nil {
				c.Err(err)
			}
			printJSON(c, s.statePayload())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "queue",
		Help: "Shows the queue",
		Func: func(c *ishell.Context) {
			printJSON(c, s.queue.State())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "pause",
		Func: func(c *ishell.Context) { s.queue.Pause() },
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "unpause",
		Func: func(c *ishell.Context) { s.queue.Unpause() },
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "clear",
		Func: func(c *ishell.Context) {
			c.Printf("Cleared %d actions\n", s.queue.Clear())
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "emergency",
		Help: "Stops everything and resets the motors",
		Func: func(c *ishell.Context) {
			if err := s.queue.Emergency(); err != nil {
				c.Err(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "kill",
		Help: "kill <id> [keep]",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("usage: kill <id> [keep]"))
				return
			}
			id, err := strconv.ParseUint(c.Args[0], 10, 64)
			if err != nil {
				c.Err(err)
				return
			}
			keep := len(c.Args) > 1 && c.Args[1] == "keep"
			if err := s.queue.KillRunningAction(queue.ActionID(id), keep); err != nil {
				c.Err(err)
			}
		},
	})

	return shell
}
