package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// Built-in minimal template trees, used when TemplatesDir has no tree for
// the requested tag. The shipped templates/ directory mirrors these.

const reactPackageJSON = `{
  "name": "react-calculator",
  "version": "1.0.0",
  "scripts": {
    "test": "node src/calculator.test.js"
  }
}
`

const reactCalculator = `export class Calculator {
  add(a, b) {
    return a + b;
  }

  subtract(a, b) {
    return a - b;
  }
}
`

const reactCalculatorTest = `import { Calculator } from './calculator.js';

const calc = new Calculator();
console.assert(calc.add(2, 3) === 5, 'add');
console.assert(calc.subtract(5, 3) === 2, 'subtract');
console.log('tests complete');
`

const expressPackageJSON = `{
  "name": "express-app",
  "version": "1.0.0",
  "scripts": {
    "test": "node src/app.test.js"
  }
}
`

const expressApp = `const express = require('express');

const app = express();
const port = process.env.PORT || 3000;

app.get('/', (req, res) => {
  res.json({ message: 'Hello World' });
});

app.listen(port, () => {
  console.log(` + "`listening on ${port}`" + `);
});
`

const expressAppTest = `// Smoke check: the app module loads without throwing.
require('./app.js');
console.log('tests complete');
`

const flaskRequirements = `flask
pytest
`

const flaskApp = `from flask import Flask, jsonify, request

app = Flask(__name__)


@app.get('/')
def root():
    return jsonify({'message': 'Hello World'})


if __name__ == '__main__':
    app.run(debug=True)
`

const flaskAppTest = `import pytest
from app import app


@pytest.fixture()
def client():
    app.config['TESTING'] = True
    with app.test_client() as c:
        yield c


def test_root(client):
    r = client.get('/')
    assert r.status_code == 200
    assert r.get_json()['message'] == 'Hello World'
`

const genericMain = `def add(a, b):
    return a + b


if __name__ == '__main__':
    print(add(2, 3))
`

// builtinTemplates maps a template tag to its file set (slash paths).
var builtinTemplates = map[model.Template]map[string]string{
	model.TemplateReact: {
		"package.json":           reactPackageJSON,
		"src/calculator.js":      reactCalculator,
		"src/calculator.test.js": reactCalculatorTest,
	},
	model.TemplateExpress: {
		"package.json":    expressPackageJSON,
		"src/app.js":      expressApp,
		"src/app.test.js": expressAppTest,
	},
	model.TemplateFlask: {
		"requirements.txt": flaskRequirements,
		"app.py":           flaskApp,
		"test_app.py":      flaskAppTest,
	},
	model.TemplateGeneric: {
		"main.py": genericMain,
	},
}

// writeBuiltinTemplate materializes the built-in tree for a template tag.
// Unknown tags get the generic tree.
func writeBuiltinTemplate(repo string, template model.Template) error {
	files, ok := builtinTemplates[template]
	if !ok {
		files = builtinTemplates[model.TemplateGeneric]
	}
	for rel, content := range files {
		target := filepath.Join(repo, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(rel), err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}
	}
	return nil
}
