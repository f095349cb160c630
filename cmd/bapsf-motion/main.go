// Command bapsf-motion drives a probe motion group from a deployment
// config: report position, move to a motion-space target, or stop.
package main

import (
	"flag"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BaPSF/bapsf-motion/config"
	"github.com/BaPSF/bapsf-motion/drive"
)

func main() {
	configPath := flag.String("config", "motion.yaml", "deployment config file")
	move := flag.String("move", "", "motion-space target, comma-separated (e.g. \"10,-5.5\")")
	status := flag.Bool("status", false, "print position and status, then exit")
	stop := flag.Bool("stop", false, "stop all axes, then exit")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatal(err)
	}

	group, err := buildGroup(cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	defer group.Close()

	switch {
	case *stop:
		if err = group.Stop(); err != nil {
			logrus.Fatal(err)
		}
		logrus.Info("all axes stopped")
	case *move != "":
		target, err := parseTarget(*move)
		if err != nil {
			logrus.Fatal(err)
		}
		if err = runMove(group, target); err != nil {
			logrus.Fatal(err)
		}
	case *status:
		printStatus(group)
	default:
		flag.Usage()
	}
}

func buildGroup(cfg *config.Config) (*drive.MotionGroup, error) {
	d, err := drive.New(cfg.Drive)
	if err != nil {
		return nil, err
	}
	tr, err := cfg.BuildTransform()
	if err != nil {
		d.Close()
		return nil, err
	}
	group, err := drive.NewMotionGroup(cfg.Name, d, tr)
	if err != nil {
		d.Close()
		return nil, err
	}
	group.Run()
	return group, nil
}

func parseTarget(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	target := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		target[i] = v
	}
	return target, nil
}

func runMove(group *drive.MotionGroup, target []float64) error {
	if err := group.MoveTo(target); err != nil {
		return err
	}
	// poll the cached status kept fresh by the heartbeats
	for {
		time.Sleep(200 * time.Millisecond)
		if !group.IsMoving() {
			break
		}
	}
	printStatus(group)
	return nil
}

func printStatus(group *drive.MotionGroup) {
	pos, u, err := group.Position()
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.WithFields(logrus.Fields{
		"position": pos,
		"units":    u.Name,
		"moving":   group.IsMoving(),
	}).Info("motion group status")

	for _, ax := range group.Drive().Axes() {
		st := ax.Status()
		logrus.WithFields(logrus.Fields{
			"axis":     ax.Name(),
			"enabled":  st.Enabled,
			"alarm":    st.Alarm,
			"position": st.Position,
		}).Info("axis status")
	}
}
