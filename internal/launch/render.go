package launch

import (
	"fmt"
	"regexp"
	"strings"
)

// Render 生成调度脚本：#SBATCH 资源声明 + 单行 exec 调用。
// 相同输入产出字节一致的脚本。
func Render(j JobSpec, e Entry) (string, error) {
	if err := Validate(j, map[string]Entry{j.Entry: e}); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	directive := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "#SBATCH --%s=%s\n", k, v)
		}
	}
	out := j.Output
	if out == "" {
		out = DefaultOutput
	}
	directive("job-name", j.Name)
	directive("output", out)
	directive("cpus-per-task", fmt.Sprint(j.CPUs))
	if j.GPU != "" {
		directive("gres", "gpu:"+j.GPU)
	}
	directive("time", j.Time)
	directive("partition", strings.Join(j.Partitions, ","))
	directive("mail-type", strings.ToUpper(j.MailType))
	directive("mail-user", j.MailUser)
	directive("account", j.Account)
	b.WriteString("\nset -u\n")
	argv := Command(j, e)
	for i, a := range argv {
		argv[i] = shellQuote(a)
	}
	fmt.Fprintf(&b, "exec %s\n", strings.Join(argv, " "))
	return b.String(), nil
}

var reBare = regexp.MustCompile(`^[A-Za-z0-9_./:=@%+-]+$`)

func shellQuote(s string) string {
	if reBare.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
